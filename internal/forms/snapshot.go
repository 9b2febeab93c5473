package forms

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"formvault/api/internal/util"
)

// SnapshotRecorder writes an immutable copy of a form to the append-only
// history store on submission. The history store is write-only from here;
// compliance review reads it through other channels.
type SnapshotRecorder struct {
	history HistoryStore
}

func NewSnapshotRecorder(history HistoryStore) *SnapshotRecorder {
	return &SnapshotRecorder{history: history}
}

// Record deep-copies the form, strips its storage identity and timestamps
// (the snapshot gets fresh ones), and appends it to the history collection
// keyed by form id and owner.
func (r *SnapshotRecorder) Record(ctx context.Context, form Form) error {
	stripped := form.Clone()
	stripped.ID = ""
	stripped.UpdatedAt = time.Time{}

	content, err := json.Marshal(stripped)
	if err != nil {
		return fmt.Errorf("marshal snapshot content: %w", err)
	}
	snapshot := Snapshot{
		ID:      util.NewID("snap"),
		FormID:  form.ID,
		Type:    form.Type,
		OwnerID: form.OwnerID,
		State:   form.State,
		Content: content,
		TakenAt: time.Now(),
	}
	if err := r.history.AppendSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("append snapshot for form %s: %w", form.ID, err)
	}
	return nil
}
