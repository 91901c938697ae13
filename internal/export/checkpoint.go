package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vigil/internal/audit"
	"vigil/pkg/platform/sentinel"
)

// ErrCheckpointMissing reports a consumer with no stored position. The
// caller must supply an explicit bootstrap start; defaulting to "the
// beginning" or "now" silently replays or drops history.
var ErrCheckpointMissing = errors.New("no checkpoint for consumer")

// CheckpointStore persists per-consumer export positions as rows in the
// event trail itself (action SECURITY_EXPORT_CHECKPOINT, resource set to
// the consumer ID). Checkpoints are therefore exactly as durable and
// auditable as the events they track, and need no extra table.
type CheckpointStore struct {
	store    audit.Store
	recorder *audit.Recorder
}

// NewCheckpointStore constructs a checkpoint store.
func NewCheckpointStore(store audit.Store, recorder *audit.Recorder) (*CheckpointStore, error) {
	if store == nil {
		return nil, errors.New("event store is required")
	}
	if recorder == nil {
		return nil, errors.New("event recorder is required")
	}
	return &CheckpointStore{store: store, recorder: recorder}, nil
}

// Load returns the consumer's newest checkpoint cursor, or
// ErrCheckpointMissing.
func (s *CheckpointStore) Load(ctx context.Context, consumerID string) (audit.Cursor, error) {
	event, err := s.store.LatestByActionResource(ctx, audit.ActionExportCheckpoint, consumerID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return audit.Cursor{}, fmt.Errorf("consumer %q: %w", consumerID, ErrCheckpointMissing)
		}
		return audit.Cursor{}, fmt.Errorf("load checkpoint: %w", err)
	}
	cursor, err := cursorFromDetails(event.Details)
	if err != nil {
		return audit.Cursor{}, fmt.Errorf("decode checkpoint for %q: %w", consumerID, err)
	}
	return cursor, nil
}

// Save records the consumer's new position as an audit event.
func (s *CheckpointStore) Save(ctx context.Context, consumerID string, cursor audit.Cursor, exported int) error {
	_, err := s.recorder.Record(ctx, audit.Entry{
		EventType: audit.ActionExportCheckpoint,
		Resource:  consumerID,
		Success:   true,
		Details: map[string]any{
			"since":           cursor.Since.Format(time.RFC3339Nano),
			"after_id":        cursor.AfterID,
			"events_exported": exported,
		},
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// cursorFromDetails tolerates both in-memory rows (typed values) and rows
// round-tripped through JSONB (strings and float64s).
func cursorFromDetails(details map[string]any) (audit.Cursor, error) {
	rawSince, ok := details["since"].(string)
	if !ok {
		return audit.Cursor{}, errors.New("checkpoint missing since")
	}
	since, err := time.Parse(time.RFC3339Nano, rawSince)
	if err != nil {
		return audit.Cursor{}, fmt.Errorf("checkpoint since: %w", err)
	}

	var afterID int64
	switch v := details["after_id"].(type) {
	case int64:
		afterID = v
	case float64:
		afterID = int64(v)
	case int:
		afterID = int64(v)
	default:
		return audit.Cursor{}, errors.New("checkpoint missing after_id")
	}

	return audit.Cursor{Since: since, AfterID: afterID}, nil
}
