// Package retention ages security events out of the store under a
// protected-action allowlist.
package retention

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"vigil/internal/audit"
	"vigil/internal/platform/config"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/requestcontext"
)

// Policy describes the effective retention configuration.
type Policy struct {
	RetentionDays    int      `json:"retention_days"`
	ProtectedActions []string `json:"protected_actions"`
}

// Preview reports what a purge at the given horizon would remove, without
// removing anything.
type Preview struct {
	RetentionDays int        `json:"retention_days"`
	Cutoff        time.Time  `json:"cutoff"`
	Eligible      int64      `json:"eligible"`
	Oldest        *time.Time `json:"oldest,omitempty"`
	Newest        *time.Time `json:"newest,omitempty"`
	DryRun        bool       `json:"dry_run"`
}

// Result reports a completed purge.
type Result struct {
	RetentionDays int       `json:"retention_days"`
	Cutoff        time.Time `json:"cutoff"`
	Deleted       int64     `json:"deleted"`
	DryRun        bool      `json:"dry_run"`
}

// Manager enforces the retention policy. Protected actions are excluded
// from preview and purge alike unless the caller explicitly includes them:
// the purge's own evidence trail and consumer checkpoints must outlive the
// events they describe.
type Manager struct {
	store    audit.Store
	recorder *audit.Recorder
	cfg      config.RetentionConfig
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager constructs the retention manager.
func NewManager(store audit.Store, recorder *audit.Recorder, cfg config.RetentionConfig, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("event store is required")
	}
	if recorder == nil {
		return nil, errors.New("event recorder is required")
	}
	m := &Manager{store: store, recorder: recorder, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Policy returns the effective configuration.
func (m *Manager) Policy() Policy {
	return Policy{
		RetentionDays:    m.cfg.DefaultDays,
		ProtectedActions: m.cfg.ProtectedActions,
	}
}

// PreviewPurge reports what a purge would remove. Zero days means the
// configured default; includeProtected drops the allowlist so protected
// rows count as candidates too.
func (m *Manager) PreviewPurge(ctx context.Context, days int, includeProtected bool) (*Preview, error) {
	days, cutoff, err := m.horizon(ctx, days)
	if err != nil {
		return nil, err
	}
	stats, err := m.store.AgeStats(ctx, cutoff, m.excluded(includeProtected))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute retention stats")
	}
	return &Preview{
		RetentionDays: days,
		Cutoff:        cutoff,
		Eligible:      stats.Count,
		Oldest:        stats.Oldest,
		Newest:        stats.Newest,
		DryRun:        true,
	}, nil
}

// Purge deletes events older than the horizon and records the purge itself
// as a security event. The recorded event is protected by default, so the
// evidence of a purge survives the next one unless includeProtected waives
// the allowlist.
func (m *Manager) Purge(ctx context.Context, days int, includeProtected bool) (*Result, error) {
	days, cutoff, err := m.horizon(ctx, days)
	if err != nil {
		return nil, err
	}
	deleted, err := m.store.DeleteOlderThan(ctx, cutoff, m.excluded(includeProtected))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "retention purge failed")
	}

	m.logger.InfoContext(ctx, "retention purge completed",
		"cutoff", cutoff,
		"deleted", deleted,
		"retention_days", days,
	)
	_, _ = m.recorder.Record(ctx, audit.Entry{
		EventType: audit.ActionRetentionPurge,
		Actor:     requestcontext.Actor(ctx),
		ActorRole: requestcontext.ActorRole(ctx),
		Success:   true,
		Details: map[string]any{
			"cutoff":            cutoff.Format(time.RFC3339Nano),
			"deleted":           deleted,
			"retention_days":    days,
			"protected_actions": m.cfg.ProtectedActions,
			"include_protected": includeProtected,
		},
	})

	return &Result{
		RetentionDays: days,
		Cutoff:        cutoff,
		Deleted:       deleted,
		DryRun:        false,
	}, nil
}

func (m *Manager) excluded(includeProtected bool) []string {
	if includeProtected {
		return nil
	}
	return m.cfg.ProtectedActions
}

func (m *Manager) horizon(ctx context.Context, days int) (int, time.Time, error) {
	if days < 0 {
		return 0, time.Time{}, dErrors.New(dErrors.CodeInvalidInput, "retention_days must not be negative")
	}
	if days == 0 {
		days = m.cfg.DefaultDays
	}
	cutoff := requestcontext.Now(ctx).AddDate(0, 0, -days)
	return days, cutoff, nil
}
