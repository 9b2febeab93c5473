// Package app maps the form engine's surface onto HTTP. Identity arrives as
// a bearer token: trainees act on their own forms, administrators carry the
// designated-body-code groups that scope their visibility.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"formvault/api/internal/auth"
	"formvault/api/internal/forms"
)

type Identity struct {
	OwnerID string
	Name    string
	Email   string
	Role    string
	Groups  []string
}

func (id Identity) actor() forms.Person {
	return forms.Person{Name: id.Name, Email: id.Email, Role: id.Role}
}

type HTTPServer struct {
	service    *forms.Service
	secret     []byte
	corsOrigin string
}

func NewHTTPServer(service *forms.Service, tokenSecret, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, secret: []byte(tokenSecret), corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w.Header(), s.corsOrigin)
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{"ok": status == "ready", "status": status, "checks": checks})
		return
	}

	identity, err := s.identityFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	segments := splitPath(strings.TrimPrefix(r.URL.Path, "/api"))
	if len(segments) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch segments[0] {
	case "forms":
		s.handleForms(w, r, identity, segments[1:])
	case "admin":
		if identity.Role != "admin" {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		s.handleAdmin(w, r, identity, segments[1:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) identityFromRequest(r *http.Request) (Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return Identity{}, auth.ErrInvalidToken
	}
	claims, err := auth.ParseToken(s.secret, token)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		OwnerID: claims.Sub,
		Name:    claims.Name,
		Email:   claims.Email,
		Role:    claims.Role,
		Groups:  claims.DBCs,
	}, nil
}

func (s *HTTPServer) handleForms(w http.ResponseWriter, r *http.Request, identity Identity, segments []string) {
	switch {
	case len(segments) == 0 && r.Method == http.MethodGet:
		result, err := s.service.ListByOwner(r.Context(), identity.OwnerID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"forms": result})

	case len(segments) == 1 && r.Method == http.MethodPost:
		var body struct {
			ID        string                     `json:"id"`
			Revision  int64                      `json:"revision"`
			Fields    map[string]json.RawMessage `json:"fields"`
			Programme *forms.ProgrammeMembership `json:"programmeMembership"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		saved, err := s.service.Save(r.Context(), forms.Form{
			ID:        body.ID,
			Type:      forms.Type(segments[0]),
			OwnerID:   identity.OwnerID,
			Revision:  body.Revision,
			Fields:    body.Fields,
			Programme: body.Programme,
		}, identity.actor())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		status := http.StatusOK
		if body.ID == "" {
			status = http.StatusCreated
		}
		writeJSON(w, status, saved)

	case len(segments) == 2 && r.Method == http.MethodGet:
		form, err := s.service.Get(r.Context(), forms.Type(segments[0]), segments[1], identity.OwnerID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, form)

	case len(segments) == 2 && r.Method == http.MethodDelete:
		if err := s.service.Delete(r.Context(), forms.Type(segments[0]), segments[1], identity.OwnerID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(segments) == 3 && segments[2] == "transition" && r.Method == http.MethodPost:
		var body struct {
			Target string `json:"target"`
			Detail string `json:"detail"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		form, err := s.service.ApplyTransition(r.Context(), forms.Type(segments[0]), segments[1], identity.OwnerID,
			forms.State(body.Target), body.Detail, identity.actor())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, form)

	case len(segments) == 3 && segments[2] == "partial-delete" && r.Method == http.MethodPost:
		var body struct {
			FixedFields []string `json:"fixedFields"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		form, err := s.service.PartialDelete(r.Context(), forms.Type(segments[0]), segments[1], identity.OwnerID,
			body.FixedFields, identity.actor())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, form)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, identity Identity, segments []string) {
	switch {
	case len(segments) == 1 && segments[0] == "forms" && r.Method == http.MethodGet:
		query := r.URL.Query()
		page, _ := strconv.Atoi(query.Get("page"))
		result, err := s.service.AdminList(r.Context(), identity.Groups, parseStates(query.Get("states")), query.Get("q"), page)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"forms": result})

	case len(segments) == 2 && segments[0] == "forms" && segments[1] == "count" && r.Method == http.MethodGet:
		count, err := s.service.AdminCount(r.Context(), identity.Groups, parseStates(r.URL.Query().Get("states")))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": count})

	case len(segments) == 2 && segments[0] == "forms" && r.Method == http.MethodGet:
		form, err := s.service.AdminDetail(r.Context(), segments[1], identity.Groups)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, form)

	case len(segments) == 1 && segments[0] == "relocations" && r.Method == http.MethodPost:
		var body struct {
			FormID      string `json:"formId"`
			TargetOwner string `json:"targetOwner"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.RelocateForm(r.Context(), body.FormID, body.TargetOwner); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(segments) == 2 && segments[0] == "relocations" && segments[1] == "bulk" && r.Method == http.MethodPost:
		var body struct {
			SourceOwner string `json:"sourceOwner"`
			TargetOwner string `json:"targetOwner"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		report, err := s.service.RelocateAllForms(r.Context(), body.SourceOwner, body.TargetOwner)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func parseStates(raw string) []forms.State {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]forms.State, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, forms.State(strings.ToUpper(trimmed)))
		}
	}
	return out
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeServiceError(w http.ResponseWriter, err error) {
	var domainErr *forms.DomainError
	if errors.As(err, &domainErr) {
		writeError(w, domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details)
		return
	}
	writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
