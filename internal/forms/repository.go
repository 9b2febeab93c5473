package forms

import (
	"context"
	"log"
	"time"

	"formvault/api/internal/metrics"
)

// DocumentStore is the mutable, query-capable backend holding the live copy
// of every form.
type DocumentStore interface {
	// SaveForm persists the form as given, rejecting with ErrRevisionConflict
	// when the persisted revision does not match expectedRevision. A form is
	// inserted when absent and expectedRevision is zero.
	SaveForm(ctx context.Context, form Form, expectedRevision int64) error
	GetForm(ctx context.Context, t Type, id, ownerID string) (Form, bool, error)
	// GetFormAnyOwner looks a form up by id alone, for admin detail and
	// relocation probing.
	GetFormAnyOwner(ctx context.Context, t Type, id string) (Form, bool, error)
	ListForms(ctx context.Context, t Type, ownerID string, states []State) ([]Form, error)
	DeleteForm(ctx context.Context, t Type, id, ownerID string) (bool, error)
	CountByDBC(ctx context.Context, dbcs []string, states []State) (int, error)
	ListByDBC(ctx context.Context, dbcs []string, states []State, limit, offset int) ([]Form, error)
	Ping(ctx context.Context) error
}

// ObjectStore is the key-addressed backend holding long-term copies of
// finalized forms, keyed by (ownerId, formType, formId).
type ObjectStore interface {
	PutForm(ctx context.Context, form Form) error
	GetForm(ctx context.Context, t Type, id, ownerID string) (Form, bool, error)
	ListForms(ctx context.Context, t Type, ownerID string) ([]Form, error)
	DeleteForm(ctx context.Context, t Type, id, ownerID string) error
	// MarkPartialDelete attaches deleteType=PARTIAL and the allow-list to the
	// stored copy's metadata for the asynchronous redaction job.
	MarkPartialDelete(ctx context.Context, t Type, id, ownerID string, fixedFields []string) error
}

// HistoryStore appends submission snapshots; it is never read by this core.
type HistoryStore interface {
	AppendSnapshot(ctx context.Context, snapshot Snapshot) error
}

// Publisher delivers fire-and-forget lifecycle events, ordered per group id.
type Publisher interface {
	Publish(ctx context.Context, topic string, message []byte, groupID string, attrs map[string]string) error
}

// Indexer mirrors admin-visible forms into the search index.
type Indexer interface {
	IndexForm(form Form)
	RemoveForm(id string)
}

// Repository routes one form type's reads and writes across the two backends
// and reconciles divergence between them.
type Repository struct {
	spec        TypeSpec
	docs        DocumentStore
	objects     ObjectStore
	alwaysStore bool
	timeout     time.Duration
}

func NewRepository(spec TypeSpec, docs DocumentStore, objects ObjectStore, alwaysStore bool, timeout time.Duration) *Repository {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Repository{spec: spec, docs: docs, objects: objects, alwaysStore: alwaysStore, timeout: timeout}
}

func (r *Repository) Spec() TypeSpec {
	return r.spec
}

// objectEligible reports whether a form in the given state belongs in the
// object store. Drafts stay document-only; redacted forms are handled via
// metadata marking, never re-put.
func (r *Repository) objectEligible(state State) bool {
	if state == StateDeleted {
		return false
	}
	return state != StateDraft || r.alwaysStore
}

// Save writes the form to the document store, and to the object store when
// its state is final-ish (or the always-store flag is set).
func (r *Repository) Save(ctx context.Context, form Form, expectedRevision int64) error {
	if err := r.docs.SaveForm(ctx, form, expectedRevision); err != nil {
		if err == ErrRevisionConflict {
			return conflictError(
				"form was modified concurrently",
				map[string]any{"id": form.ID, "expectedRevision": expectedRevision},
			)
		}
		return fatalError("document store save failed", err)
	}
	if r.objectEligible(form.State) {
		if err := r.objects.PutForm(ctx, form); err != nil {
			return fatalError("object store save failed", err)
		}
	}
	return nil
}

type readResult struct {
	form  Form
	found bool
	err   error
}

func (r *Repository) readBackend(ctx context.Context, fn func(context.Context) (Form, bool, error)) readResult {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	form, found, err := fn(cctx)
	return readResult{form: form, found: found, err: err}
}

// Get queries both backends concurrently and returns the authoritative copy:
// the strictly more recent one, the document copy on an exact timestamp tie.
// When one backend fails the surviving backend's copy is served.
func (r *Repository) Get(ctx context.Context, id, ownerID string) (Form, error) {
	docCh := make(chan readResult, 1)
	objCh := make(chan readResult, 1)
	go func() {
		docCh <- r.readBackend(ctx, func(cctx context.Context) (Form, bool, error) {
			return r.docs.GetForm(cctx, r.spec.Name, id, ownerID)
		})
	}()
	go func() {
		objCh <- r.readBackend(ctx, func(cctx context.Context) (Form, bool, error) {
			return r.objects.GetForm(cctx, r.spec.Name, id, ownerID)
		})
	}()
	doc, obj := <-docCh, <-objCh

	if doc.err != nil && obj.err != nil {
		return Form{}, fatalError("both storage backends unavailable", doc.err)
	}
	if doc.err != nil {
		log.Printf("forms: document store read degraded for %s/%s: %v", r.spec.Name, id, doc.err)
		metrics.DegradedReads.WithLabelValues("document").Inc()
		if obj.found {
			return obj.form, nil
		}
		return Form{}, notFoundError()
	}
	if obj.err != nil {
		log.Printf("forms: object store read degraded for %s/%s: %v", r.spec.Name, id, obj.err)
		metrics.DegradedReads.WithLabelValues("object").Inc()
		if doc.found {
			return doc.form, nil
		}
		return Form{}, notFoundError()
	}

	switch {
	case doc.found && obj.found:
		if obj.form.UpdatedAt.After(doc.form.UpdatedAt) {
			metrics.DualStoreReads.WithLabelValues("object").Inc()
			return obj.form, nil
		}
		metrics.DualStoreReads.WithLabelValues("document").Inc()
		return doc.form, nil
	case doc.found:
		metrics.DualStoreReads.WithLabelValues("document").Inc()
		return doc.form, nil
	case obj.found:
		metrics.DualStoreReads.WithLabelValues("object").Inc()
		return obj.form, nil
	default:
		metrics.DualStoreReads.WithLabelValues("miss").Inc()
		return Form{}, notFoundError()
	}
}

// ListByOwner unions the document store's live drafts with every object store
// copy for the owner. The write policy keeps the sets disjoint; deduplication
// by id is defensive, preferring the read-by-id winner.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]Form, error) {
	drafts, err := r.docs.ListForms(ctx, r.spec.Name, ownerID, []State{StateDraft})
	if err != nil {
		return nil, fatalError("document store list failed", err)
	}
	stored, err := r.objects.ListForms(ctx, r.spec.Name, ownerID)
	if err != nil {
		return nil, fatalError("object store list failed", err)
	}

	out := make([]Form, 0, len(drafts)+len(stored))
	seen := make(map[string]int, len(drafts))
	for _, form := range drafts {
		seen[form.ID] = len(out)
		out = append(out, form)
	}
	for _, form := range stored {
		if i, dup := seen[form.ID]; dup {
			if form.UpdatedAt.After(out[i].UpdatedAt) {
				out[i] = form
			}
			continue
		}
		out = append(out, form)
	}
	return out, nil
}

// Delete hard-deletes a draft. Any other state is an invalid-state conflict,
// not a not-found.
func (r *Repository) Delete(ctx context.Context, id, ownerID string) error {
	form, found, err := r.docs.GetForm(ctx, r.spec.Name, id, ownerID)
	if err != nil {
		return fatalError("document store read failed", err)
	}
	if !found {
		return notFoundError()
	}
	if form.State != StateDraft {
		return conflictError(
			"only draft forms can be deleted",
			map[string]any{"id": id, "state": form.State},
		)
	}
	deleted, err := r.docs.DeleteForm(ctx, r.spec.Name, id, ownerID)
	if err != nil {
		return fatalError("document store delete failed", err)
	}
	if !deleted {
		return notFoundError()
	}
	return nil
}

// PartialDelete redacts a non-draft form: the document copy is collapsed to
// the allow-listed fields and force-set to DELETED; the object copy is only
// marked via metadata for the asynchronous maintenance job.
func (r *Repository) PartialDelete(ctx context.Context, id, ownerID string, allowList []string, actor Person, now time.Time) (Form, error) {
	form, found, err := r.docs.GetForm(ctx, r.spec.Name, id, ownerID)
	if err != nil {
		return Form{}, fatalError("document store read failed", err)
	}
	if !found {
		return Form{}, notFoundError()
	}
	if form.State == StateDraft {
		return Form{}, conflictError(
			"draft forms are hard-deleted, not redacted",
			map[string]any{"id": id, "state": form.State},
		)
	}

	expected := form.Revision
	redacted := form.Clone()
	kept := make(map[string]struct{}, len(allowList))
	for _, field := range allowList {
		kept[field] = struct{}{}
	}
	for field := range redacted.Fields {
		if _, ok := kept[field]; !ok {
			delete(redacted.Fields, field)
		}
	}
	if r.spec.TracksStatus && redacted.Status != nil {
		redacted.Status.History = append(redacted.Status.History, redacted.Status.Current)
		redacted.Status.Current = StatusInfo{State: StateDeleted, Timestamp: now, ModifiedBy: actor}
	}
	redacted.State = StateDeleted
	redacted.Revision++
	redacted.UpdatedAt = now

	if err := r.docs.SaveForm(ctx, redacted, expected); err != nil {
		if err == ErrRevisionConflict {
			return Form{}, conflictError("form was modified concurrently", map[string]any{"id": id})
		}
		return Form{}, fatalError("document store save failed", err)
	}
	if err := r.objects.MarkPartialDelete(ctx, r.spec.Name, id, ownerID, allowList); err != nil {
		return Form{}, fatalError("object store metadata mark failed", err)
	}
	return redacted, nil
}

// Relocation primitives. These keep owner changes idempotent so the saga's
// inverse steps can re-run them safely.

func (r *Repository) findAnyOwner(ctx context.Context, id string) (Form, bool, error) {
	return r.docs.GetFormAnyOwner(ctx, r.spec.Name, id)
}

func (r *Repository) setOwner(ctx context.Context, form Form, ownerID string, now time.Time) error {
	reowned := form.Clone()
	reowned.OwnerID = ownerID
	reowned.UpdatedAt = now
	return r.docs.SaveForm(ctx, reowned, form.Revision)
}

func (r *Repository) objectPut(ctx context.Context, form Form, ownerID string) error {
	copied := form.Clone()
	copied.OwnerID = ownerID
	return r.objects.PutForm(ctx, copied)
}

func (r *Repository) objectDelete(ctx context.Context, id, ownerID string) error {
	return r.objects.DeleteForm(ctx, r.spec.Name, id, ownerID)
}
