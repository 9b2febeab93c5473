package forms

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRevisionConflict is returned by DocumentStore implementations when a
// save's expected revision does not match the persisted one.
var ErrRevisionConflict = errors.New("revision conflict")

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func validationError(message string, details any) *DomainError {
	return &DomainError{Status: http.StatusBadRequest, Code: "VALIDATION", Message: message, Details: details}
}

func conflictError(message string, details any) *DomainError {
	return &DomainError{Status: http.StatusConflict, Code: "CONFLICT", Message: message, Details: details}
}

// notFoundError is deliberately uniform: absence and lack of authorization
// must be indistinguishable to the caller.
func notFoundError() *DomainError {
	return &DomainError{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: "Form not found"}
}

func fatalError(message string, cause error) *DomainError {
	e := &DomainError{Status: http.StatusInternalServerError, Code: "FATAL", Message: message}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}
