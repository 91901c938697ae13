package export

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vigil/internal/audit"
	"vigil/internal/platform/config"
	"vigil/pkg/requestcontext"
)

type PipelineSuite struct {
	suite.Suite
	ctx      context.Context
	base     time.Time
	store    *audit.InMemoryStore
	pipeline *Pipeline
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}

func (s *PipelineSuite) SetupTest() {
	s.base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.base)
	s.store = audit.NewInMemoryStore()

	recorder, err := audit.NewRecorder(s.store)
	s.Require().NoError(err)
	cursors, err := NewCursorCodec("cursor-key")
	s.Require().NoError(err)
	checkpoints, err := NewCheckpointStore(s.store, recorder)
	s.Require().NoError(err)

	s.pipeline, err = NewPipeline(s.store,
		NewIntegrityCodec("export-key", "key-1"),
		cursors, checkpoints,
		config.ExportConfig{DefaultLimit: 100, MaxLimit: 500})
	s.Require().NoError(err)
}

func (s *PipelineSuite) seed(n int, start time.Time) {
	for i := range n {
		_, err := s.store.Append(s.ctx, audit.Event{
			Timestamp: start.Add(time.Duration(i) * time.Second),
			Action:    audit.ActionLoginFailed,
			Actor:     "alice",
		})
		s.Require().NoError(err)
	}
}

func (s *PipelineSuite) TestExportAdvancesCursorWithEvents() {
	s.seed(3, s.base)

	batch, err := s.pipeline.Export(s.ctx, audit.Cursor{Since: s.base.Add(-time.Minute)}, 2)
	s.Require().NoError(err)
	s.Equal(2, batch.Count)
	s.Require().NotNil(batch.Integrity)
	s.True(batch.Integrity.Signed)

	// The token resumes after the second event; the third comes next.
	cursor, err := s.pipeline.DecodeCursor(batch.NextCursorToken)
	s.Require().NoError(err)
	next, err := s.pipeline.Export(s.ctx, cursor, 10)
	s.Require().NoError(err)
	s.Equal(1, next.Count)
	s.Equal(batch.Events[1].ID+1, next.Events[0].ID)
}

func (s *PipelineSuite) TestEmptyPageKeepsCursor() {
	cursor := audit.Cursor{Since: s.base, AfterID: 7}
	batch, err := s.pipeline.Export(s.ctx, cursor, 10)
	s.Require().NoError(err)
	s.Zero(batch.Count)
	s.Equal(cursor, batch.NextCursor)
}

func (s *PipelineSuite) TestLimitClamping() {
	s.Equal(100, s.pipeline.ClampLimit(0))
	s.Equal(100, s.pipeline.ClampLimit(-5))
	s.Equal(500, s.pipeline.ClampLimit(9000))
	s.Equal(42, s.pipeline.ClampLimit(42))
}

// Legacy contract: strictly after the timestamp, so events at exactly the
// since instant are excluded regardless of ID.
func (s *PipelineSuite) TestExportSinceIsExclusive() {
	s.seed(2, s.base)

	batch, err := s.pipeline.ExportSince(s.ctx, s.base, 10)
	s.Require().NoError(err)
	s.Equal(1, batch.Count)
	s.Equal(s.base.Add(time.Second), batch.Events[0].Timestamp)
}

func (s *PipelineSuite) TestConsumerWithoutCheckpointNeedsBootstrap() {
	_, err := s.pipeline.ExportForConsumer(s.ctx, "siem-a", 10, nil)
	s.ErrorIs(err, ErrCheckpointMissing)
}

func (s *PipelineSuite) TestConsumerBootstrapAndResume() {
	s.seed(3, s.base)

	bootstrap := s.base.Add(-time.Minute)
	first, err := s.pipeline.ExportForConsumer(s.ctx, "siem-a", 2, &bootstrap)
	s.Require().NoError(err)
	s.Equal(2, first.Count)

	second, err := s.pipeline.ExportForConsumer(s.ctx, "siem-a", 10, nil)
	s.Require().NoError(err)
	s.Require().GreaterOrEqual(second.Count, 1)
	s.Equal(first.Events[1].ID+1, second.Events[0].ID)

	// No overlap between pages.
	for _, e := range second.Events {
		s.Greater(e.ID, first.Events[1].ID)
	}
}

func (s *PipelineSuite) TestConsumerEmptyPollKeepsPosition() {
	s.seed(1, s.base)
	bootstrap := s.base.Add(-time.Minute)

	_, err := s.pipeline.ExportForConsumer(s.ctx, "siem-a", 10, &bootstrap)
	s.Require().NoError(err)
	before, err := s.pipeline.Checkpoint(s.ctx, "siem-a")
	s.Require().NoError(err)

	// Drain whatever the checkpoint row added, then poll on empty.
	for {
		batch, err := s.pipeline.ExportForConsumer(s.ctx, "siem-a", 10, nil)
		s.Require().NoError(err)
		if batch.Count == 0 {
			break
		}
	}
	after, err := s.pipeline.Checkpoint(s.ctx, "siem-a")
	s.Require().NoError(err)
	s.False(after.Before(before))
}

// Consumer pages skip checkpoint rows; the direct export surfaces keep them
// for forensic completeness.
func (s *PipelineSuite) TestConsumerPagesExcludeCheckpointRows() {
	s.seed(1, s.base)
	bootstrap := s.base.Add(-time.Minute)

	_, err := s.pipeline.ExportForConsumer(s.ctx, "siem-a", 10, &bootstrap)
	s.Require().NoError(err)

	// A second consumer scanning the same range sees the first consumer's
	// checkpoint row skipped, not served.
	batch, err := s.pipeline.ExportForConsumer(s.ctx, "siem-b", 10, &bootstrap)
	s.Require().NoError(err)
	s.Equal(1, batch.Count)
	for _, e := range batch.Events {
		s.NotEqual(audit.ActionExportCheckpoint, e.Action)
	}

	direct, err := s.pipeline.Export(s.ctx, audit.Cursor{Since: bootstrap}, 10)
	s.Require().NoError(err)
	actions := make(map[string]int)
	for _, e := range direct.Events {
		actions[e.Action]++
	}
	s.NotZero(actions[audit.ActionExportCheckpoint])
}

func (s *PipelineSuite) TestSetCheckpointRepositions() {
	s.seed(3, s.base)

	target := audit.Cursor{Since: s.base.Add(time.Second), AfterID: 2}
	s.Require().NoError(s.pipeline.SetCheckpoint(s.ctx, "siem-a", target))

	got, err := s.pipeline.Checkpoint(s.ctx, "siem-a")
	s.Require().NoError(err)
	s.True(got.Since.Equal(target.Since))
	s.Equal(target.AfterID, got.AfterID)

	batch, err := s.pipeline.ExportForConsumer(s.ctx, "siem-a", 10, nil)
	s.Require().NoError(err)
	s.Require().NotZero(batch.Count)
	s.Equal(int64(3), batch.Events[0].ID)
}
