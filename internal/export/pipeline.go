package export

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vigil/internal/audit"
	exportmetrics "vigil/internal/export/metrics"
	"vigil/internal/platform/config"
)

// Batch is one page of exported events with its integrity attestation. The
// next cursor token resumes strictly after the last event in this page.
type Batch struct {
	Events          []audit.Event `json:"events"`
	Count           int           `json:"count"`
	NextCursor      audit.Cursor  `json:"-"`
	NextCursorToken string        `json:"next_cursor"`
	Integrity       *Envelope     `json:"integrity"`
}

// Pipeline pages events out of the store with integrity envelopes, signed
// cursors, and per-consumer checkpoints.
type Pipeline struct {
	store       audit.Store
	integrity   *IntegrityCodec
	cursors     *CursorCodec
	checkpoints *CheckpointStore
	cfg         config.ExportConfig
	logger      *slog.Logger
	metrics     *exportmetrics.Metrics
	tracer      trace.Tracer
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the pipeline's logger.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

// WithMetrics sets the pipeline's metrics.
func WithMetrics(m *exportmetrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline constructs the export pipeline.
func NewPipeline(store audit.Store, integrity *IntegrityCodec, cursors *CursorCodec, checkpoints *CheckpointStore, cfg config.ExportConfig, opts ...PipelineOption) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("event store is required")
	}
	if integrity == nil {
		return nil, errors.New("integrity codec is required")
	}
	if cursors == nil {
		return nil, errors.New("cursor codec is required")
	}
	if checkpoints == nil {
		return nil, errors.New("checkpoint store is required")
	}
	p := &Pipeline{
		store:       store,
		integrity:   integrity,
		cursors:     cursors,
		checkpoints: checkpoints,
		cfg:         cfg,
		logger:      slog.Default(),
		tracer:      otel.Tracer("vigil/export"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ClampLimit applies the configured default and ceiling to a requested page
// size. Unlike cursor tokens, limits are clamped rather than rejected:
// a too-large page is a tuning matter, not a correctness one.
func (p *Pipeline) ClampLimit(limit int) int {
	if limit <= 0 {
		return p.cfg.DefaultLimit
	}
	if limit > p.cfg.MaxLimit {
		return p.cfg.MaxLimit
	}
	return limit
}

// DecodeCursor verifies an opaque cursor token from a client.
func (p *Pipeline) DecodeCursor(token string) (audit.Cursor, error) {
	return p.cursors.Decode(token)
}

// Export serves one page strictly after cursor. The returned cursor only
// advances when events were served; an empty page re-serves the same
// position, so pollers can't drift past rows that arrive later.
func (p *Pipeline) Export(ctx context.Context, cursor audit.Cursor, limit int) (*Batch, error) {
	return p.page(ctx, cursor, limit, false)
}

// page lists one raw page and seals it. With dropCheckpoints, checkpoint
// rows are excluded from the served events but still advance the cursor;
// consumer feeds would otherwise export every position they record and
// trigger another record each poll.
func (p *Pipeline) page(ctx context.Context, cursor audit.Cursor, limit int, dropCheckpoints bool) (*Batch, error) {
	ctx, span := p.tracer.Start(ctx, "export.batch", trace.WithAttributes(
		attribute.Int("export.limit", limit),
		attribute.Int64("export.cursor.after_id", cursor.AfterID),
	))
	defer span.End()

	limit = p.ClampLimit(limit)
	raw, err := p.store.ListAfter(ctx, cursor, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list events")
		return nil, err
	}

	events := raw
	if dropCheckpoints {
		events = make([]audit.Event, 0, len(raw))
		for _, e := range raw {
			if e.Action != audit.ActionExportCheckpoint {
				events = append(events, e)
			}
		}
	}

	// The cursor advances over everything scanned, filtered rows included,
	// so a run of checkpoint rows can't pin a consumer in place.
	next := cursor
	if len(raw) > 0 {
		last := raw[len(raw)-1]
		next = audit.Cursor{Since: last.Timestamp, AfterID: last.ID}
	}
	token, err := p.cursors.Encode(next)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode cursor")
		return nil, err
	}

	_, envelope, err := p.integrity.Seal(events)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "seal batch")
		return nil, err
	}

	span.SetAttributes(attribute.Int("export.events", len(events)))
	if p.metrics != nil {
		p.metrics.Batches.Inc()
		p.metrics.EventsExported.Add(float64(len(events)))
	}

	return &Batch{
		Events:          events,
		Count:           len(events),
		NextCursor:      next,
		NextCursorToken: token,
		Integrity:       envelope,
	}, nil
}

// ExportSince serves the legacy timestamp-only contract: everything
// strictly after since, regardless of row ID. Internally this is the
// compound cursor pinned past any ID at that timestamp.
func (p *Pipeline) ExportSince(ctx context.Context, since time.Time, limit int) (*Batch, error) {
	return p.Export(ctx, audit.Cursor{Since: since, AfterID: int64(^uint64(0) >> 1)}, limit)
}

// ExportForConsumer resumes from the consumer's checkpoint, serves a page,
// and records the advanced position. A consumer with no checkpoint must
// pass a bootstrap start; otherwise ErrCheckpointMissing.
//
// Delivery is at-least-once: a crash between serving the page and the
// consumer processing it re-serves from the recorded position, so
// consumers must deduplicate on event ID.
func (p *Pipeline) ExportForConsumer(ctx context.Context, consumerID string, limit int, bootstrapSince *time.Time) (*Batch, error) {
	ctx, span := p.tracer.Start(ctx, "export.consumer", trace.WithAttributes(
		attribute.String("export.consumer_id", consumerID),
	))
	defer span.End()

	cursor, err := p.checkpoints.Load(ctx, consumerID)
	if err != nil {
		if errors.Is(err, ErrCheckpointMissing) && bootstrapSince != nil {
			cursor = audit.Cursor{Since: *bootstrapSince}
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, "load checkpoint")
			return nil, err
		}
	}

	batch, err := p.page(ctx, cursor, limit, true)
	if err != nil {
		return nil, err
	}

	if batch.Count > 0 {
		if err := p.checkpoints.Save(ctx, consumerID, batch.NextCursor, batch.Count); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "save checkpoint")
			return nil, err
		}
		if p.metrics != nil {
			p.metrics.CheckpointSaves.Inc()
		}
	}
	return batch, nil
}

// Checkpoint exposes the consumer's stored position for inspection.
func (p *Pipeline) Checkpoint(ctx context.Context, consumerID string) (audit.Cursor, error) {
	return p.checkpoints.Load(ctx, consumerID)
}

// SetCheckpoint overwrites a consumer's position, for operator-driven
// replay or skip-ahead. The write is an audit event like any other
// checkpoint, so manual repositioning leaves a trace.
func (p *Pipeline) SetCheckpoint(ctx context.Context, consumerID string, cursor audit.Cursor) error {
	if err := p.checkpoints.Save(ctx, consumerID, cursor, 0); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.CheckpointSaves.Inc()
	}
	return nil
}
