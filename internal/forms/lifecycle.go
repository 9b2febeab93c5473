package forms

import (
	"fmt"
	"strings"
	"time"
)

// TypeSpec is the capability set of one form type: its legality table, the
// targets that demand a reason, and whether the type keeps a status audit
// trail and submission snapshots.
type TypeSpec struct {
	Name             Type
	TracksStatus     bool
	SnapshotOnSubmit bool

	transitions    map[State]map[State]bool
	requiresDetail map[State]bool
}

// The legality tables are the single source of truth for transitions.
// Terminal states (no outgoing edges): APPROVED, REJECTED, WITHDRAWN,
// DELETED for the richer type; DELETED for the simpler one.
var partBSpec = TypeSpec{
	Name:             TypePartB,
	TracksStatus:     true,
	SnapshotOnSubmit: true,
	transitions: map[State]map[State]bool{
		StateDraft: {StateSubmitted: true},
		StateSubmitted: {
			StateUnsubmitted: true,
			StateApproved:    true,
			StateRejected:    true,
			StateWithdrawn:   true,
		},
		StateUnsubmitted: {
			StateSubmitted: true,
			StateWithdrawn: true,
		},
	},
	requiresDetail: map[State]bool{
		StateUnsubmitted: true,
		StateRejected:    true,
		StateWithdrawn:   true,
	},
}

var partASpec = TypeSpec{
	Name:             TypePartA,
	SnapshotOnSubmit: true,
	transitions: map[State]map[State]bool{
		StateDraft:       {StateSubmitted: true},
		StateSubmitted:   {StateUnsubmitted: true},
		StateUnsubmitted: {StateSubmitted: true},
	},
	requiresDetail: map[State]bool{
		StateUnsubmitted: true,
	},
}

// typeOrder fixes the probe order used by relocation and admin detail lookup.
var typeOrder = []TypeSpec{partBSpec, partASpec}

// Registry returns the known form types in probe order.
func Registry() []TypeSpec {
	return typeOrder
}

// Spec resolves a form type by name.
func Spec(t Type) (TypeSpec, bool) {
	for _, spec := range typeOrder {
		if spec.Name == t {
			return spec, true
		}
	}
	return TypeSpec{}, false
}

// CanTransition reports whether current -> target is in the legality table.
func (s TypeSpec) CanTransition(current, target State) bool {
	return s.transitions[current][target]
}

// RequiresDetail reports whether target demands a non-empty reason.
func (s TypeSpec) RequiresDetail(target State) bool {
	return s.requiresDetail[target]
}

// States lists every state reachable in this type's table, for exhaustive
// iteration in filters and tests.
func (s TypeSpec) States() []State {
	if s.TracksStatus {
		return []State{StateDraft, StateSubmitted, StateUnsubmitted, StateWithdrawn, StateApproved, StateRejected, StateDeleted}
	}
	return []State{StateDraft, StateSubmitted, StateUnsubmitted, StateDeleted}
}

// Transition validates and applies target to the form in memory. Rejections
// leave the form untouched; persistence is the caller's concern.
func Transition(form *Form, spec TypeSpec, target State, detail string, actor Person, now time.Time) error {
	if spec.RequiresDetail(target) && strings.TrimSpace(detail) == "" {
		return validationError(
			fmt.Sprintf("transition to %s requires a reason", target),
			map[string]any{"target": target},
		)
	}
	if !spec.CanTransition(form.State, target) {
		return conflictError(
			fmt.Sprintf("cannot transition %s form from %s to %s", spec.Name, form.State, target),
			map[string]any{"current": form.State, "target": target},
		)
	}

	if spec.TracksStatus {
		if form.Status == nil {
			form.Status = &Status{Current: StatusInfo{State: form.State, Timestamp: form.UpdatedAt}}
		}
		form.Status.History = append(form.Status.History, form.Status.Current)
		form.Status.Current = StatusInfo{State: target, Timestamp: now, ModifiedBy: actor, Detail: strings.TrimSpace(detail)}
	}
	form.State = target
	if target == StateSubmitted {
		at := now
		form.SubmittedAt = &at
	}
	form.Revision++
	form.UpdatedAt = now
	return nil
}

// IsSubmission reports whether target is a submission-type transition, the
// trigger for audit snapshots.
func IsSubmission(target State) bool {
	return target == StateSubmitted
}
