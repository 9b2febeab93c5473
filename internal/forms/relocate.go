package forms

import (
	"context"
	"log"
	"time"

	"formvault/api/internal/metrics"
)

// sagaStep pairs a forward action with its inverse. Inverses must be safe to
// run even when the forward action only partially completed.
type sagaStep struct {
	name string
	run  func(ctx context.Context) error
	undo func(ctx context.Context) error
}

// runSaga executes the steps in order. On failure it runs the inverse of
// every started step in reverse order (best effort, failures logged) and
// returns the original error.
func runSaga(ctx context.Context, steps []sagaStep) error {
	for i, step := range steps {
		err := step.run(ctx)
		if err == nil {
			continue
		}
		for j := i; j >= 0; j-- {
			if undoErr := steps[j].undo(ctx); undoErr != nil {
				log.Printf("relocate: compensation step %s failed: %v", steps[j].name, undoErr)
			}
		}
		return err
	}
	return nil
}

// Relocator moves forms between owners across both backends. Single-form
// relocation compensates on partial failure; bulk relocation isolates
// per-form failures and never rolls back siblings.
type Relocator struct {
	repos []*Repository
}

func NewRelocator(repos []*Repository) *Relocator {
	return &Relocator{repos: repos}
}

// resolve probes the typed repositories in registry order until one reports
// a match.
func (c *Relocator) resolve(ctx context.Context, formID string) (*Repository, Form, error) {
	for _, repo := range c.repos {
		form, found, err := repo.findAnyOwner(ctx, formID)
		if err != nil {
			return nil, Form{}, fatalError("relocation lookup failed", err)
		}
		if found {
			return repo, form, nil
		}
	}
	return nil, Form{}, notFoundError()
}

// RelocateForm moves one form to targetOwner. Step A re-owns the document
// store copy; Step B (non-draft forms) writes the object copy under the new
// owner's key and deletes the old key. Any failure triggers best-effort
// compensation; the original error is what the caller sees.
func (c *Relocator) RelocateForm(ctx context.Context, formID, targetOwner string) error {
	repo, form, err := c.resolve(ctx, formID)
	if err != nil {
		return err
	}
	sourceOwner := form.OwnerID
	if sourceOwner == targetOwner {
		return validationError(
			"form already belongs to the target owner",
			map[string]any{"id": formID, "owner": targetOwner},
		)
	}

	now := time.Now()
	steps := []sagaStep{
		{
			name: "reown-document",
			run: func(ctx context.Context) error {
				return repo.setOwner(ctx, form, targetOwner, now)
			},
			undo: func(ctx context.Context) error {
				return repo.setOwner(ctx, form, sourceOwner, now)
			},
		},
	}
	if form.State != StateDraft {
		steps = append(steps, sagaStep{
			name: "move-object-copy",
			run: func(ctx context.Context) error {
				if err := repo.objectPut(ctx, form, targetOwner); err != nil {
					return err
				}
				return repo.objectDelete(ctx, formID, sourceOwner)
			},
			undo: func(ctx context.Context) error {
				if err := repo.objectPut(ctx, form, sourceOwner); err != nil {
					return err
				}
				return repo.objectDelete(ctx, formID, targetOwner)
			},
		})
	}

	if err := runSaga(ctx, steps); err != nil {
		metrics.RelocationsTotal.WithLabelValues("failed").Inc()
		return fatalError("relocation failed", err)
	}
	metrics.RelocationsTotal.WithLabelValues("moved").Inc()
	return nil
}

// RelocationFailure names one form a bulk relocation could not move.
type RelocationFailure struct {
	FormID string `json:"formId"`
	Type   Type   `json:"formType"`
	Error  string `json:"error"`
}

// RelocationReport is the operator contract for bulk relocation: forms
// already moved stay moved even when later ones fail.
type RelocationReport struct {
	SourceOwner string              `json:"sourceOwner"`
	TargetOwner string              `json:"targetOwner"`
	Moved       []string            `json:"moved"`
	Failed      []RelocationFailure `json:"failed"`
}

// RelocateAllForms moves every form of every type owned by sourceOwner.
// Failures are isolated per form; there is no cross-form rollback.
func (c *Relocator) RelocateAllForms(ctx context.Context, sourceOwner, targetOwner string) (RelocationReport, error) {
	if sourceOwner == targetOwner {
		return RelocationReport{}, validationError("source and target owner are identical", nil)
	}
	report := RelocationReport{
		SourceOwner: sourceOwner,
		TargetOwner: targetOwner,
		Moved:       []string{},
		Failed:      []RelocationFailure{},
	}
	for _, repo := range c.repos {
		owned, err := repo.ListByOwner(ctx, sourceOwner)
		if err != nil {
			return report, fatalError("bulk relocation enumeration failed", err)
		}
		for _, form := range owned {
			if err := c.RelocateForm(ctx, form.ID, targetOwner); err != nil {
				log.Printf("relocate: form %s/%s from %s to %s failed: %v", repo.spec.Name, form.ID, sourceOwner, targetOwner, err)
				report.Failed = append(report.Failed, RelocationFailure{FormID: form.ID, Type: repo.spec.Name, Error: err.Error()})
				continue
			}
			report.Moved = append(report.Moved, form.ID)
		}
	}
	return report, nil
}
