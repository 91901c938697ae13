package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	alertmetrics "vigil/internal/alert/metrics"
	"vigil/internal/audit"
	"vigil/internal/platform/config"
	"vigil/internal/registry"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/sentinel"
	"vigil/pkg/requestcontext"
)

// Registry key prefixes. Cooldown and silence entries self-expire, so the
// governor never sweeps them.
const (
	cooldownKeyPrefix = "alert:cooldown:"
	silenceKeyPrefix  = "alert:silence:"
)

// Auto-create decision outcomes, in evaluation order.
const (
	OutcomeNoAnomalies = "no_anomalies"
	OutcomeSilenced    = "silenced"
	OutcomeCooldown    = "cooldown"
	OutcomeCreated     = "created"
)

// Decision is the result of one auto-create evaluation.
type Decision struct {
	Outcome     string     `json:"outcome"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	Alert       *Alert     `json:"alert,omitempty"`
	Until       *time.Time `json:"until,omitempty"`
}

// silenceRecord is the registry payload for one silence entry.
type silenceRecord struct {
	By      string `json:"by"`
	Role    string `json:"role"`
	AlertID string `json:"alert_id,omitempty"`
}

// Sink publishes created alerts to an external feed.
type Sink interface {
	Publish(ctx context.Context, alert *Alert) error
}

// Governor decides whether an anomaly report becomes an alert and manages
// the silence lifecycle around it.
type Governor struct {
	alerts   Store
	reg      registry.Store
	recorder *audit.Recorder
	cfg      config.AlertConfig
	sink     Sink
	logger   *slog.Logger
	metrics  *alertmetrics.Metrics
}

// Option configures a Governor.
type Option func(*Governor)

// WithLogger sets the governor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Governor) { g.logger = logger }
}

// WithSink sets the alert feed publisher.
func WithSink(sink Sink) Option {
	return func(g *Governor) { g.sink = sink }
}

// WithMetrics sets the governor's metrics.
func WithMetrics(m *alertmetrics.Metrics) Option {
	return func(g *Governor) { g.metrics = m }
}

// NewGovernor constructs the alert governor.
func NewGovernor(alerts Store, reg registry.Store, recorder *audit.Recorder, cfg config.AlertConfig, opts ...Option) (*Governor, error) {
	if alerts == nil {
		return nil, errors.New("alert store is required")
	}
	if reg == nil {
		return nil, errors.New("registry store is required")
	}
	if recorder == nil {
		return nil, errors.New("event recorder is required")
	}
	g := &Governor{
		alerts:   alerts,
		reg:      reg,
		recorder: recorder,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Fingerprint derives a stable identity for a set of anomalies from their
// event types and thresholds. Counts are deliberately excluded: a growing
// count is the same incident, not a new one.
func Fingerprint(anomalies []audit.Anomaly) string {
	parts := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		parts = append(parts, fmt.Sprintf("%s:%d", a.EventType, a.Threshold))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// MaybeAutoCreate evaluates a report against the governance rules. The
// checks run in fixed order: no anomalies, active silence, cooldown, then
// creation. Only creation has side effects.
func (g *Governor) MaybeAutoCreate(ctx context.Context, report *audit.Report, cooldown time.Duration) (*Decision, error) {
	decision, err := g.evaluate(ctx, report, cooldown)
	if err != nil {
		return nil, err
	}
	if g.metrics != nil {
		g.metrics.Decisions.WithLabelValues(decision.Outcome).Inc()
	}
	return decision, nil
}

func (g *Governor) evaluate(ctx context.Context, report *audit.Report, cooldown time.Duration) (*Decision, error) {
	if len(report.Anomalies) == 0 {
		return &Decision{Outcome: OutcomeNoAnomalies}, nil
	}

	fp := Fingerprint(report.Anomalies)
	if cooldown <= 0 {
		cooldown = g.cfg.DefaultCooldown
	}
	now := requestcontext.Now(ctx)

	if item, err := g.reg.Get(ctx, silenceKeyPrefix+fp); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check silence")
	} else if item != nil {
		return &Decision{Outcome: OutcomeSilenced, Fingerprint: fp, Until: &item.ExpiresAt}, nil
	}

	// The registry entry holds the fingerprint's last creation timestamp.
	// Whether it suppresses depends on the cooldown window of the request
	// being evaluated, not the one that created the entry.
	if item, err := g.reg.Get(ctx, cooldownKeyPrefix+fp); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check cooldown")
	} else if item != nil {
		lastCreated, parseErr := time.Parse(time.RFC3339Nano, item.Value)
		if parseErr == nil && now.Sub(lastCreated) < cooldown {
			until := lastCreated.Add(cooldown)
			return &Decision{Outcome: OutcomeCooldown, Fingerprint: fp, Until: &until}, nil
		}
	}

	severity := SeverityHigh
	for _, a := range report.Anomalies {
		if a.Severity == audit.SeverityHigh {
			severity = SeverityUrgent
			break
		}
	}

	created := &Alert{
		ID:            uuid.NewString(),
		Title:         alertTitle(report.Anomalies),
		Severity:      severity,
		Status:        StatusOpen,
		Fingerprint:   fp,
		Anomalies:     report.Anomalies,
		WindowMinutes: report.WindowMinutes,
		CreatedAt:     now,
	}
	if err := g.alerts.Create(ctx, created); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create alert")
	}

	// Cooldown is stamped after creation: a failed create must not suppress
	// the retry. The TTL only bounds how long the timestamp is kept around,
	// so it covers the largest window a later request may ask for.
	ttl := g.cfg.MaxCooldown
	if ttl < cooldown {
		ttl = cooldown
	}
	if err := g.reg.Put(ctx, cooldownKeyPrefix+fp, now.Format(time.RFC3339Nano), ttl); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to stamp cooldown")
	}

	_, _ = g.recorder.Record(ctx, audit.Entry{
		EventType: audit.ActionAlertAutoCreated,
		Resource:  created.ID,
		Success:   true,
		Details: map[string]any{
			"fingerprint":   fp,
			"severity":      severity,
			"anomaly_count": len(report.Anomalies),
		},
	})

	if g.sink != nil {
		if err := g.sink.Publish(ctx, created); err != nil {
			// The alert exists locally regardless; feed delivery is
			// best-effort.
			g.logger.WarnContext(ctx, "alert feed publish failed",
				"alert_id", created.ID,
				"error", err,
			)
			if g.metrics != nil {
				g.metrics.PublishFailures.Inc()
			}
		}
	}

	until := now.Add(cooldown)
	return &Decision{Outcome: OutcomeCreated, Fingerprint: fp, Alert: created, Until: &until}, nil
}

func alertTitle(anomalies []audit.Anomaly) string {
	types := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		types = append(types, a.EventType)
	}
	sort.Strings(types)
	return "Security anomalies detected: " + strings.Join(types, ", ")
}

// Acknowledge marks an alert acknowledged and optionally silences its
// fingerprint. Silence duration is capped per role and fails closed: a role
// with no configured cap cannot silence at all.
func (g *Governor) Acknowledge(ctx context.Context, alertID string, silenceMinutes int, note string) (*Alert, error) {
	actor := requestcontext.Actor(ctx)
	role := requestcontext.ActorRole(ctx)

	alert, err := g.alerts.Get(ctx, alertID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "alert not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load alert")
	}
	if alert.Status == StatusAcknowledged {
		return nil, dErrors.New(dErrors.CodeConflict, "alert already acknowledged")
	}

	silence := time.Duration(silenceMinutes) * time.Minute
	if silence > 0 {
		if err := g.checkSilenceCap(role, silence); err != nil {
			return nil, err
		}
	}

	now := requestcontext.Now(ctx)
	alert.Status = StatusAcknowledged
	alert.AcknowledgedBy = actor
	alert.AcknowledgedAt = &now
	if err := g.alerts.Update(ctx, alert); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update alert")
	}

	if silence > 0 {
		if err := g.putSilence(ctx, alert.Fingerprint, actor, role, alert.ID, silence); err != nil {
			return nil, err
		}
	}

	details := map[string]any{
		"fingerprint":     alert.Fingerprint,
		"silence_minutes": silenceMinutes,
	}
	if silence > 0 {
		details["silenced_until"] = now.Add(silence).Format(time.RFC3339Nano)
	}
	if note != "" {
		details["note"] = note
	}
	_, _ = g.recorder.Record(ctx, audit.Entry{
		EventType: audit.ActionAlertAcked,
		Actor:     actor,
		ActorRole: role,
		Resource:  alert.ID,
		Success:   true,
		Details:   details,
	})
	return alert, nil
}

// RenewSilence extends an active silence. Renewing a fingerprint with no
// active entry is a not-found: silences are created by acknowledging an
// alert, never out of thin air.
func (g *Governor) RenewSilence(ctx context.Context, fingerprint string, silenceMinutes int) (*Silence, error) {
	actor := requestcontext.Actor(ctx)
	role := requestcontext.ActorRole(ctx)

	if silenceMinutes <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "silence_minutes must be positive")
	}
	silence := time.Duration(silenceMinutes) * time.Minute
	if err := g.checkSilenceCap(role, silence); err != nil {
		return nil, err
	}

	item, err := g.reg.Get(ctx, silenceKeyPrefix+fingerprint)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load silence")
	}
	if item == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "no active silence for fingerprint")
	}
	var record silenceRecord
	_ = json.Unmarshal([]byte(item.Value), &record)

	if err := g.putSilence(ctx, fingerprint, actor, role, record.AlertID, silence); err != nil {
		return nil, err
	}

	until := requestcontext.Now(ctx).Add(silence)
	_, _ = g.recorder.Record(ctx, audit.Entry{
		EventType: audit.ActionSilenceRenewed,
		Actor:     actor,
		ActorRole: role,
		Resource:  fingerprint,
		Success:   true,
		Details: map[string]any{
			"silence_minutes": silenceMinutes,
			"silenced_until":  until.Format(time.RFC3339Nano),
		},
	})
	return &Silence{
		Fingerprint:      fingerprint,
		SilencedBy:       actor,
		Role:             role,
		AlertID:          record.AlertID,
		Until:            until,
		RemainingSeconds: int64(silence / time.Second),
	}, nil
}

// ClearSilence removes an active silence. The role policy applies here the
// same way it does to acknowledge and renew: a role with no configured
// silence cap cannot manage silences at all.
func (g *Governor) ClearSilence(ctx context.Context, fingerprint string) error {
	if _, ok := g.cfg.SilenceCaps[requestcontext.ActorRole(ctx)]; !ok {
		return dErrors.New(dErrors.CodeForbidden, "role may not manage silences")
	}

	item, err := g.reg.Get(ctx, silenceKeyPrefix+fingerprint)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load silence")
	}
	if item == nil {
		return dErrors.New(dErrors.CodeNotFound, "no active silence for fingerprint")
	}
	if err := g.reg.Delete(ctx, silenceKeyPrefix+fingerprint); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear silence")
	}

	_, _ = g.recorder.Record(ctx, audit.Entry{
		EventType: audit.ActionSilenceCleared,
		Actor:     requestcontext.Actor(ctx),
		ActorRole: requestcontext.ActorRole(ctx),
		Resource:  fingerprint,
		Success:   true,
	})
	return nil
}

// ListActiveSilences returns active silences ordered by expiry, soonest
// first.
func (g *Governor) ListActiveSilences(ctx context.Context) ([]Silence, error) {
	items, err := g.reg.List(ctx, silenceKeyPrefix)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list silences")
	}
	now := requestcontext.Now(ctx)
	out := make([]Silence, 0, len(items))
	for key, item := range items {
		var record silenceRecord
		_ = json.Unmarshal([]byte(item.Value), &record)
		remaining := int64(item.ExpiresAt.Sub(now) / time.Second)
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, Silence{
			Fingerprint:      strings.TrimPrefix(key, silenceKeyPrefix),
			SilencedBy:       record.By,
			Role:             record.Role,
			AlertID:          record.AlertID,
			Until:            item.ExpiresAt,
			RemainingSeconds: remaining,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Until.Before(out[j].Until)
	})
	return out, nil
}

func (g *Governor) checkSilenceCap(role string, silence time.Duration) error {
	limit, ok := g.cfg.SilenceCaps[role]
	if !ok || silence > limit {
		return dErrors.New(dErrors.CodeForbidden, "silence duration exceeds role cap")
	}
	return nil
}

func (g *Governor) putSilence(ctx context.Context, fingerprint, actor, role, alertID string, silence time.Duration) error {
	raw, err := json.Marshal(silenceRecord{By: actor, Role: role, AlertID: alertID})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode silence")
	}
	if err := g.reg.Put(ctx, silenceKeyPrefix+fingerprint, string(raw), silence); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store silence")
	}
	return nil
}
