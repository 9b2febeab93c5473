package forms

import (
	"errors"
	"testing"
	"time"
)

func TestPartBLegalityTable(t *testing.T) {
	spec, ok := Spec(TypePartB)
	if !ok {
		t.Fatal("partb spec not registered")
	}
	legal := map[State][]State{
		StateDraft:       {StateSubmitted},
		StateSubmitted:   {StateUnsubmitted, StateApproved, StateRejected, StateWithdrawn},
		StateUnsubmitted: {StateSubmitted, StateWithdrawn},
		StateWithdrawn:   {},
		StateApproved:    {},
		StateRejected:    {},
		StateDeleted:     {},
	}
	for _, current := range spec.States() {
		for _, target := range spec.States() {
			want := containsState(legal[current], target)
			if got := spec.CanTransition(current, target); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", current, target, got, want)
			}
		}
	}
}

func TestPartALegalityTable(t *testing.T) {
	spec, ok := Spec(TypePartA)
	if !ok {
		t.Fatal("parta spec not registered")
	}
	legal := map[State][]State{
		StateDraft:       {StateSubmitted},
		StateSubmitted:   {StateUnsubmitted},
		StateUnsubmitted: {StateSubmitted},
		StateDeleted:     {},
	}
	for _, current := range spec.States() {
		for _, target := range spec.States() {
			want := containsState(legal[current], target)
			if got := spec.CanTransition(current, target); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", current, target, got, want)
			}
		}
	}
}

func TestRequiresDetail(t *testing.T) {
	partB, _ := Spec(TypePartB)
	partA, _ := Spec(TypePartA)
	cases := []struct {
		spec   TypeSpec
		target State
		want   bool
	}{
		{partB, StateUnsubmitted, true},
		{partB, StateRejected, true},
		{partB, StateWithdrawn, true},
		{partB, StateSubmitted, false},
		{partB, StateApproved, false},
		{partA, StateUnsubmitted, true},
		{partA, StateSubmitted, false},
	}
	for _, tc := range cases {
		if got := tc.spec.RequiresDetail(tc.target); got != tc.want {
			t.Errorf("%s RequiresDetail(%s) = %v, want %v", tc.spec.Name, tc.target, got, tc.want)
		}
	}
}

func TestTransitionRejectsMissingDetailBeforeMutation(t *testing.T) {
	spec, _ := Spec(TypePartB)
	now := time.Now()
	form := Form{
		ID:       "partb_1",
		Type:     TypePartB,
		OwnerID:  "trainee-1",
		State:    StateSubmitted,
		Revision: 1,
		Status:   &Status{Current: StatusInfo{State: StateSubmitted, Timestamp: now}},
	}
	before := form.Clone()

	err := Transition(&form, spec, StateUnsubmitted, "   ", Person{Name: "Admin"}, now)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION" {
		t.Fatalf("expected VALIDATION error, got %v", err)
	}
	if form.State != before.State || form.Revision != before.Revision {
		t.Fatalf("rejected transition mutated the form: %+v", form)
	}
	if len(form.Status.History) != 0 {
		t.Fatalf("rejected transition appended history: %+v", form.Status)
	}
}

func TestTransitionRejectsIllegalEdgeWithConflict(t *testing.T) {
	spec, _ := Spec(TypePartB)
	form := Form{ID: "partb_1", Type: TypePartB, State: StateDraft, Revision: 0}

	err := Transition(&form, spec, StateApproved, "", Person{Name: "Admin"}, time.Now())
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "CONFLICT" {
		t.Fatalf("expected CONFLICT error, got %v", err)
	}
	if form.State != StateDraft || form.Revision != 0 {
		t.Fatalf("rejected transition mutated the form: %+v", form)
	}
}

func TestTransitionAppendsHistoryAndBumpsRevision(t *testing.T) {
	spec, _ := Spec(TypePartB)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := created.Add(time.Hour)
	form := Form{
		ID:        "partb_1",
		Type:      TypePartB,
		OwnerID:   "trainee-1",
		State:     StateDraft,
		Revision:  0,
		UpdatedAt: created,
		Status:    &Status{Current: StatusInfo{State: StateDraft, Timestamp: created}},
	}

	if err := Transition(&form, spec, StateSubmitted, "", Person{Name: "Avery"}, now); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if form.State != StateSubmitted || form.Revision != 1 {
		t.Fatalf("unexpected form after submit: state=%s revision=%d", form.State, form.Revision)
	}
	if form.SubmittedAt == nil || !form.SubmittedAt.Equal(now) {
		t.Fatalf("SubmittedAt not set: %v", form.SubmittedAt)
	}
	if len(form.Status.History) != 1 || form.Status.History[0].State != StateDraft {
		t.Fatalf("unexpected history: %+v", form.Status.History)
	}
	if form.Status.Current.State != StateSubmitted || form.Status.Current.ModifiedBy.Name != "Avery" {
		t.Fatalf("unexpected current status: %+v", form.Status.Current)
	}
}

func TestTransitionTrimsDetail(t *testing.T) {
	spec, _ := Spec(TypePartB)
	now := time.Now()
	form := Form{
		ID:       "partb_1",
		Type:     TypePartB,
		State:    StateSubmitted,
		Revision: 1,
		Status:   &Status{Current: StatusInfo{State: StateSubmitted, Timestamp: now}},
	}
	if err := Transition(&form, spec, StateUnsubmitted, "  needs correction  ", Person{Name: "Admin"}, now); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if form.Status.Current.Detail != "needs correction" {
		t.Fatalf("detail not trimmed: %q", form.Status.Current.Detail)
	}
}

func TestPartADoesNotTrackStatus(t *testing.T) {
	spec, _ := Spec(TypePartA)
	form := Form{ID: "parta_1", Type: TypePartA, State: StateDraft}

	if err := Transition(&form, spec, StateSubmitted, "", Person{Name: "Avery"}, time.Now()); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if form.Status != nil {
		t.Fatalf("parta transition created a status trail: %+v", form.Status)
	}
	if form.State != StateSubmitted || form.Revision != 1 {
		t.Fatalf("unexpected form after submit: %+v", form)
	}
}

func TestRegistryProbeOrder(t *testing.T) {
	registry := Registry()
	if len(registry) != 2 || registry[0].Name != TypePartB || registry[1].Name != TypePartA {
		t.Fatalf("unexpected registry order: %+v", registry)
	}
}
