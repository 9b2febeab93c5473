package forms

import (
	"context"
	"errors"
	"sync"
)

var errObjectStoreDown = errors.New("object store down")

func docKey(t Type, id string) string {
	return string(t) + "/" + id
}

func objKey(t Type, id, ownerID string) string {
	return ownerID + "/" + string(t) + "/" + id
}

// fakeDocs is an in-memory DocumentStore with the same revision-predicate
// save semantics as the Postgres implementation. Error fields inject
// failures per method.
type fakeDocs struct {
	mu    sync.Mutex
	forms map[string]Form

	saveErr   error
	getErr    error
	listErr   error
	deleteErr error
	countErr  error
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{forms: make(map[string]Form)}
}

func (f *fakeDocs) SaveForm(_ context.Context, form Form, expectedRevision int64) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := docKey(form.Type, form.ID)
	current, exists := f.forms[key]
	if exists {
		if current.Revision != expectedRevision {
			return ErrRevisionConflict
		}
	} else if expectedRevision != 0 {
		return ErrRevisionConflict
	}
	f.forms[key] = form.Clone()
	return nil
}

func (f *fakeDocs) GetForm(_ context.Context, t Type, id, ownerID string) (Form, bool, error) {
	if f.getErr != nil {
		return Form{}, false, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	form, ok := f.forms[docKey(t, id)]
	if !ok || form.OwnerID != ownerID {
		return Form{}, false, nil
	}
	return form.Clone(), true, nil
}

func (f *fakeDocs) GetFormAnyOwner(_ context.Context, t Type, id string) (Form, bool, error) {
	if f.getErr != nil {
		return Form{}, false, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	form, ok := f.forms[docKey(t, id)]
	if !ok {
		return Form{}, false, nil
	}
	return form.Clone(), true, nil
}

func (f *fakeDocs) ListForms(_ context.Context, t Type, ownerID string, states []State) ([]Form, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Form, 0)
	for _, form := range f.forms {
		if form.Type != t || form.OwnerID != ownerID {
			continue
		}
		if len(states) > 0 && !containsState(states, form.State) {
			continue
		}
		out = append(out, form.Clone())
	}
	return out, nil
}

func (f *fakeDocs) DeleteForm(_ context.Context, t Type, id, ownerID string) (bool, error) {
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := docKey(t, id)
	form, ok := f.forms[key]
	if !ok || form.OwnerID != ownerID {
		return false, nil
	}
	delete(f.forms, key)
	return true, nil
}

func (f *fakeDocs) CountByDBC(_ context.Context, dbcs []string, states []State) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, form := range f.forms {
		if containsString(dbcs, form.DesignatedBodyCode()) && containsState(states, form.State) {
			count++
		}
	}
	return count, nil
}

func (f *fakeDocs) ListByDBC(_ context.Context, dbcs []string, states []State, limit, offset int) ([]Form, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	matched := make([]Form, 0)
	for _, form := range f.forms {
		if containsString(dbcs, form.DesignatedBodyCode()) && containsState(states, form.State) {
			matched = append(matched, form.Clone())
		}
	}
	if offset >= len(matched) {
		return []Form{}, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (f *fakeDocs) Ping(context.Context) error {
	return nil
}

func (f *fakeDocs) stored(t Type, id string) (Form, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	form, ok := f.forms[docKey(t, id)]
	return form, ok
}

// fakeObjects is an in-memory ObjectStore keyed by (owner, type, id).
// failPutID fails PutForm for one specific form, for saga tests.
type fakeObjects struct {
	mu    sync.Mutex
	forms map[string]Form
	marks map[string][]string

	putErr    error
	failPutID string
	getErr    error
	listErr   error
	deleteErr error
	markErr   error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{forms: make(map[string]Form), marks: make(map[string][]string)}
}

func (f *fakeObjects) PutForm(_ context.Context, form Form) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPutID != "" && form.ID == f.failPutID {
		return errObjectStoreDown
	}
	f.forms[objKey(form.Type, form.ID, form.OwnerID)] = form.Clone()
	return nil
}

func (f *fakeObjects) GetForm(_ context.Context, t Type, id, ownerID string) (Form, bool, error) {
	if f.getErr != nil {
		return Form{}, false, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	form, ok := f.forms[objKey(t, id, ownerID)]
	if !ok {
		return Form{}, false, nil
	}
	return form.Clone(), true, nil
}

func (f *fakeObjects) ListForms(_ context.Context, t Type, ownerID string) ([]Form, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Form, 0)
	for _, form := range f.forms {
		if form.Type == t && form.OwnerID == ownerID {
			out = append(out, form.Clone())
		}
	}
	return out, nil
}

func (f *fakeObjects) DeleteForm(_ context.Context, t Type, id, ownerID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.forms, objKey(t, id, ownerID))
	return nil
}

func (f *fakeObjects) MarkPartialDelete(_ context.Context, t Type, id, ownerID string, fixedFields []string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks[objKey(t, id, ownerID)] = append([]string(nil), fixedFields...)
	return nil
}

func (f *fakeObjects) stored(t Type, id, ownerID string) (Form, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	form, ok := f.forms[objKey(t, id, ownerID)]
	return form, ok
}

type fakeHistory struct {
	mu        sync.Mutex
	snapshots []Snapshot
	appendErr error
}

func (f *fakeHistory) AppendSnapshot(_ context.Context, snapshot Snapshot) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snapshot)
	return nil
}

type publishedEvent struct {
	topic   string
	message []byte
	groupID string
	attrs   map[string]string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakePublisher) Publish(_ context.Context, topic string, message []byte, groupID string, attrs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{topic: topic, message: message, groupID: groupID, attrs: attrs})
	return nil
}

type fakeSearcher struct {
	hits  []SearchHit
	total int
	err   error
}

func (f *fakeSearcher) SearchForms(context.Context, string, []string, []State, int, int) ([]SearchHit, int, error) {
	return f.hits, f.total, f.err
}

func containsState(states []State, s State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
