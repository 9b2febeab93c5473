// Package forms implements the form lifecycle and dual-store consistency
// engine: lifecycle transitions with audit history, routing between the
// document store and the object store, submission snapshots, admin
// visibility scoping, and cross-owner relocation.
package forms

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

type Type string

const (
	TypePartA Type = "parta"
	TypePartB Type = "partb"
)

type State string

const (
	StateDraft       State = "DRAFT"
	StateSubmitted   State = "SUBMITTED"
	StateUnsubmitted State = "UNSUBMITTED"
	StateWithdrawn   State = "WITHDRAWN"
	StateApproved    State = "APPROVED"
	StateRejected    State = "REJECTED"
	// StateDeleted marks a redacted form: the identifier survives, the
	// content is collapsed to an allow-listed field set.
	StateDeleted State = "DELETED"
)

// Person records who performed a transition, independent of the owner.
type Person struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

type StatusInfo struct {
	State      State     `json:"state"`
	Timestamp  time.Time `json:"timestamp"`
	ModifiedBy Person    `json:"modifiedBy"`
	Detail     string    `json:"detail,omitempty"`
}

// Status is the audit trail of a form: the current StatusInfo plus every
// superseded one, oldest first.
type Status struct {
	Current StatusInfo   `json:"current"`
	History []StatusInfo `json:"history"`
}

// ProgrammeMembership carries the organizational grouping key used to scope
// admin visibility.
type ProgrammeMembership struct {
	ProgrammeName      string `json:"programmeName,omitempty"`
	DesignatedBodyCode string `json:"designatedBodyCode"`
}

// Form is the common envelope for every form type. Type-specific payload
// fields live in Fields; Status and Programme are set only for types whose
// spec tracks them.
type Form struct {
	ID          string                     `json:"id"`
	Type        Type                       `json:"formType"`
	OwnerID     string                     `json:"ownerId"`
	State       State                      `json:"lifecycleState"`
	Revision    int64                      `json:"revision"`
	SubmittedAt *time.Time                 `json:"submittedAt,omitempty"`
	UpdatedAt   time.Time                  `json:"updatedAt"`
	Programme   *ProgrammeMembership       `json:"programmeMembership,omitempty"`
	Status      *Status                    `json:"status,omitempty"`
	Fields      map[string]json.RawMessage `json:"fields,omitempty"`
}

// Clone returns a deep copy.
func (f Form) Clone() Form {
	out := f
	if f.SubmittedAt != nil {
		at := *f.SubmittedAt
		out.SubmittedAt = &at
	}
	if f.Programme != nil {
		pm := *f.Programme
		out.Programme = &pm
	}
	if f.Status != nil {
		st := Status{Current: f.Status.Current}
		st.History = append([]StatusInfo(nil), f.Status.History...)
		out.Status = &st
	}
	if f.Fields != nil {
		fields := make(map[string]json.RawMessage, len(f.Fields))
		for k, v := range f.Fields {
			fields[k] = append(json.RawMessage(nil), v...)
		}
		out.Fields = fields
	}
	return out
}

// DesignatedBodyCode returns the programme grouping key, empty when the form
// carries no programme membership.
func (f Form) DesignatedBodyCode() string {
	if f.Programme == nil {
		return ""
	}
	return f.Programme.DesignatedBodyCode
}

// SearchText flattens the string-valued payload fields for indexing.
func (f Form) SearchText() string {
	keys := make([]string, 0, len(f.Fields))
	for k := range f.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	if f.Programme != nil && f.Programme.ProgrammeName != "" {
		parts = append(parts, f.Programme.ProgrammeName)
	}
	for _, k := range keys {
		var s string
		if err := json.Unmarshal(f.Fields[k], &s); err == nil && strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Snapshot is an immutable copy of a form taken on submission, stored in the
// append-only history collection. Content is the mapped form with its storage
// identity and timestamps stripped; the snapshot gets fresh identity and a
// fresh timestamp from the history store.
type Snapshot struct {
	ID      string
	FormID  string
	Type    Type
	OwnerID string
	State   State
	Content json.RawMessage
	TakenAt time.Time
}
