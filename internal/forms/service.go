package forms

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"formvault/api/internal/config"
	"formvault/api/internal/metrics"
	"formvault/api/internal/util"
)

// Options wires the service to its collaborators. Publisher, Indexer, and
// Searcher may be nil; the corresponding side effects are skipped.
type Options struct {
	Docs              DocumentStore
	Objects           ObjectStore
	History           HistoryStore
	Publisher         Publisher
	Indexer           Indexer
	Searcher          Searcher
	SnapshotPolicy    string
	AlwaysObjectStore bool
	BackendTimeout    time.Duration
	LifecycleStream   string
}

// Service is the surface this core exposes to its callers: form CRUD,
// lifecycle transitions, relocation, and admin queries.
type Service struct {
	repos           map[Type]*Repository
	order           []*Repository
	snapshots       *SnapshotRecorder
	publisher       Publisher
	indexer         Indexer
	relocator       *Relocator
	admin           *AdminService
	docs            DocumentStore
	snapshotPolicy  string
	lifecycleStream string
	now             func() time.Time
}

func NewService(opts Options) *Service {
	repos := make(map[Type]*Repository)
	order := make([]*Repository, 0, len(Registry()))
	for _, spec := range Registry() {
		repo := NewRepository(spec, opts.Docs, opts.Objects, opts.AlwaysObjectStore, opts.BackendTimeout)
		repos[spec.Name] = repo
		order = append(order, repo)
	}
	policy := opts.SnapshotPolicy
	if policy == "" {
		policy = config.SnapshotRequired
	}
	stream := opts.LifecycleStream
	if stream == "" {
		stream = "formvault:lifecycle"
	}
	return &Service{
		repos:           repos,
		order:           order,
		snapshots:       NewSnapshotRecorder(opts.History),
		publisher:       opts.Publisher,
		indexer:         opts.Indexer,
		relocator:       NewRelocator(order),
		admin:           NewAdminService(opts.Docs, opts.Searcher),
		docs:            opts.Docs,
		snapshotPolicy:  policy,
		lifecycleStream: stream,
		now:             time.Now,
	}
}

func (s *Service) repo(t Type) (*Repository, error) {
	repo, ok := s.repos[t]
	if !ok {
		return nil, validationError("unknown form type", map[string]any{"formType": t})
	}
	return repo, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.docs.Ping(ctx)
}

// Save creates a form (empty id) or updates its content. Updates carry the
// revision the caller read; a stale revision is a conflict. Lifecycle state
// never changes through Save — that is ApplyTransition's job.
func (s *Service) Save(ctx context.Context, form Form, actor Person) (Form, error) {
	repo, err := s.repo(form.Type)
	if err != nil {
		return Form{}, err
	}
	if strings.TrimSpace(form.OwnerID) == "" {
		return Form{}, validationError("ownerId is required", nil)
	}
	now := s.now()

	if form.ID == "" {
		created := form.Clone()
		created.ID = util.NewID(string(form.Type))
		created.State = StateDraft
		created.Revision = 0
		created.SubmittedAt = nil
		created.UpdatedAt = now
		if repo.Spec().TracksStatus {
			created.Status = &Status{Current: StatusInfo{State: StateDraft, Timestamp: now, ModifiedBy: actor}}
		} else {
			created.Status = nil
		}
		if err := repo.Save(ctx, created, 0); err != nil {
			return Form{}, err
		}
		return created, nil
	}

	current, err := repo.Get(ctx, form.ID, form.OwnerID)
	if err != nil {
		return Form{}, err
	}
	if current.State == StateDeleted {
		return Form{}, conflictError("redacted forms cannot be edited", map[string]any{"id": form.ID})
	}

	expected := form.Revision
	updated := current.Clone()
	updated.Fields = form.Clone().Fields
	updated.Programme = form.Clone().Programme
	updated.Revision = expected + 1
	updated.UpdatedAt = now
	if err := repo.Save(ctx, updated, expected); err != nil {
		return Form{}, err
	}
	s.index(updated)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, t Type, id, ownerID string) (Form, error) {
	repo, err := s.repo(t)
	if err != nil {
		return Form{}, err
	}
	return repo.Get(ctx, id, ownerID)
}

// ListByOwner unions every form type owned by ownerID, in registry order.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]Form, error) {
	out := make([]Form, 0)
	for _, repo := range s.order {
		forms, err := repo.ListByOwner(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		out = append(out, forms...)
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, t Type, id, ownerID string) error {
	repo, err := s.repo(t)
	if err != nil {
		return err
	}
	if err := repo.Delete(ctx, id, ownerID); err != nil {
		return err
	}
	if s.indexer != nil {
		s.indexer.RemoveForm(id)
	}
	return nil
}

func (s *Service) PartialDelete(ctx context.Context, t Type, id, ownerID string, allowList []string, actor Person) (Form, error) {
	repo, err := s.repo(t)
	if err != nil {
		return Form{}, err
	}
	redacted, err := repo.PartialDelete(ctx, id, ownerID, allowList, actor, s.now())
	if err != nil {
		return Form{}, err
	}
	s.index(redacted)
	return redacted, nil
}

// ApplyTransition validates and records one lifecycle transition. On a
// submission target the audit snapshot is taken before the save; under the
// required snapshot policy its failure fails the whole transition.
func (s *Service) ApplyTransition(ctx context.Context, t Type, id, ownerID string, target State, detail string, actor Person) (Form, error) {
	repo, err := s.repo(t)
	if err != nil {
		return Form{}, err
	}
	spec := repo.Spec()

	form, err := repo.Get(ctx, id, ownerID)
	if err != nil {
		return Form{}, err
	}
	expected := form.Revision

	updated := form.Clone()
	now := s.now()
	if err := Transition(&updated, spec, target, detail, actor, now); err != nil {
		reason := "conflict"
		var derr *DomainError
		if errors.As(err, &derr) && derr.Code == "VALIDATION" {
			reason = "validation"
		}
		metrics.TransitionsRejected.WithLabelValues(string(spec.Name), reason).Inc()
		return Form{}, err
	}

	if spec.SnapshotOnSubmit && IsSubmission(target) {
		if err := s.snapshots.Record(ctx, updated); err != nil {
			metrics.SnapshotFailures.Inc()
			if s.snapshotPolicy == config.SnapshotBestEffort {
				log.Printf("forms: snapshot for %s/%s skipped: %v", t, id, err)
			} else {
				return Form{}, fatalError("submission snapshot failed", err)
			}
		}
	}

	if err := repo.Save(ctx, updated, expected); err != nil {
		return Form{}, err
	}

	metrics.TransitionsTotal.WithLabelValues(string(spec.Name), string(target)).Inc()
	s.publishTransition(ctx, form.State, updated, actor, detail)
	s.index(updated)
	return updated, nil
}

func (s *Service) RelocateForm(ctx context.Context, formID, targetOwner string) error {
	if err := s.relocator.RelocateForm(ctx, formID, targetOwner); err != nil {
		return err
	}
	s.publishRelocation(ctx, formID, targetOwner)
	return nil
}

func (s *Service) RelocateAllForms(ctx context.Context, sourceOwner, targetOwner string) (RelocationReport, error) {
	report, err := s.relocator.RelocateAllForms(ctx, sourceOwner, targetOwner)
	if err != nil {
		return report, err
	}
	for _, id := range report.Moved {
		s.publishRelocation(ctx, id, targetOwner)
	}
	return report, nil
}

func (s *Service) AdminCount(ctx context.Context, groups []string, states []State) (int, error) {
	return s.admin.Count(ctx, groups, states)
}

func (s *Service) AdminList(ctx context.Context, groups []string, states []State, query string, page int) ([]Form, error) {
	return s.admin.List(ctx, groups, states, query, page)
}

func (s *Service) AdminDetail(ctx context.Context, id string, groups []string) (Form, error) {
	return s.admin.Detail(ctx, id, groups)
}

func (s *Service) index(form Form) {
	if s.indexer == nil || form.State == StateDraft {
		return
	}
	s.indexer.IndexForm(form)
}

func (s *Service) publishTransition(ctx context.Context, previous State, form Form, actor Person, detail string) {
	if s.publisher == nil {
		return
	}
	message, err := json.Marshal(map[string]any{
		"event":    "lifecycle.transition",
		"formId":   form.ID,
		"formType": form.Type,
		"ownerId":  form.OwnerID,
		"previous": previous,
		"state":    form.State,
		"actor":    actor.Name,
		"detail":   detail,
		"at":       form.UpdatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("forms: marshal transition event for %s: %v", form.ID, err)
		return
	}
	attrs := map[string]string{
		"formType": string(form.Type),
		"state":    string(form.State),
		"revision": strconv.FormatInt(form.Revision, 10),
	}
	if err := s.publisher.Publish(ctx, s.lifecycleStream, message, form.ID, attrs); err != nil {
		log.Printf("forms: publish transition event for %s: %v", form.ID, err)
	}
}

func (s *Service) publishRelocation(ctx context.Context, formID, targetOwner string) {
	if s.publisher == nil {
		return
	}
	message, err := json.Marshal(map[string]any{
		"event":       "relocation",
		"formId":      formID,
		"targetOwner": targetOwner,
		"at":          s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("forms: marshal relocation event for %s: %v", formID, err)
		return
	}
	if err := s.publisher.Publish(ctx, s.lifecycleStream, message, formID, map[string]string{"event": "relocation"}); err != nil {
		log.Printf("forms: publish relocation event for %s: %v", formID, err)
	}
}
