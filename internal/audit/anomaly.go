package audit

import (
	"context"
	"errors"
	"sort"
	"time"

	auditmetrics "vigil/internal/audit/metrics"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/requestcontext"
)

// Anomaly severities. High means the count reached twice its threshold.
const (
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Anomaly is one event type whose windowed count reached its threshold.
type Anomaly struct {
	EventType string `json:"event_type"`
	Count     int    `json:"count"`
	Threshold int    `json:"threshold"`
	Severity  string `json:"severity"`
}

// Report is a point-in-time view of threshold breaches over the trailing
// window. It is a pure read; computing it changes nothing.
type Report struct {
	WindowMinutes int            `json:"window_minutes"`
	Totals        map[string]int `json:"totals_by_event"`
	Thresholds    map[string]int `json:"thresholds_used"`
	Anomalies     []Anomaly      `json:"anomalies"`
	Healthy       bool           `json:"healthy"`
}

// Detector computes windowed threshold breaches from the event store.
type Detector struct {
	store      Store
	thresholds map[string]int
	metrics    *auditmetrics.Metrics
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithDetectorMetrics sets the detector's metrics.
func WithDetectorMetrics(m *auditmetrics.Metrics) DetectorOption {
	return func(d *Detector) { d.metrics = m }
}

// NewDetector constructs an anomaly detector with the configured default
// per-action thresholds (canonical SECURITY_* keys).
func NewDetector(store Store, thresholds map[string]int, opts ...DetectorOption) (*Detector, error) {
	if store == nil {
		return nil, errors.New("event store is required")
	}
	d := &Detector{store: store, thresholds: thresholds}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Report counts SECURITY_* events in the trailing window grouped by action
// and flags every action whose count reached its threshold. Overrides
// replace configured thresholds for this request only; override keys are
// canonicalized, so "login_failed" targets SECURITY_LOGIN_FAILED.
func (d *Detector) Report(ctx context.Context, windowMinutes int, overrides map[string]int) (*Report, error) {
	if windowMinutes <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "window_minutes must be positive")
	}

	now := requestcontext.Now(ctx)
	since := now.Add(-time.Duration(windowMinutes) * time.Minute)

	totals, err := d.store.CountByActionSince(ctx, since)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count security events")
	}

	thresholds := make(map[string]int, len(d.thresholds)+len(overrides))
	for action, threshold := range d.thresholds {
		thresholds[action] = threshold
	}
	for eventType, threshold := range overrides {
		if threshold > 0 {
			thresholds[CanonicalAction(eventType)] = threshold
		}
	}

	var anomalies []Anomaly
	for action, threshold := range thresholds {
		count := totals[action]
		if count < threshold {
			continue
		}
		severity := SeverityMedium
		if count >= 2*threshold {
			severity = SeverityHigh
		}
		anomalies = append(anomalies, Anomaly{
			EventType: action,
			Count:     count,
			Threshold: threshold,
			Severity:  severity,
		})
	}
	// Deterministic order for fingerprinting and stable API responses.
	sort.Slice(anomalies, func(i, j int) bool {
		return anomalies[i].EventType < anomalies[j].EventType
	})

	if d.metrics != nil {
		d.metrics.AnomalyReports.Inc()
	}

	return &Report{
		WindowMinutes: windowMinutes,
		Totals:        totals,
		Thresholds:    thresholds,
		Anomalies:     anomalies,
		Healthy:       len(anomalies) == 0,
	}, nil
}
