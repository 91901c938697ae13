package audit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mssola/useragent"

	auditmetrics "vigil/internal/audit/metrics"
	"vigil/pkg/requestcontext"
)

// Entry is one security-relevant decision to record. EventType is free-form
// and gets canonicalized; Details may nest arbitrarily and are redacted
// before persisting.
type Entry struct {
	EventType string
	Actor     string
	ActorRole string
	Resource  string
	Success   bool
	Details   map[string]any
	Err       error
}

// Recorder is the single write path into the audit trail. Every
// authentication/authorization decision - success or failure - produces
// exactly one event through it.
type Recorder struct {
	store    Store
	redactor *Redactor
	logger   *slog.Logger
	metrics  *auditmetrics.Metrics
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithLogger sets the recorder's logger.
func WithLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = logger }
}

// WithRedactor overrides the default redaction key set.
func WithRedactor(redactor *Redactor) RecorderOption {
	return func(r *Recorder) { r.redactor = redactor }
}

// WithMetrics sets the recorder's metrics. Tests leave this unset to avoid
// duplicate registration on the default Prometheus registerer.
func WithMetrics(m *auditmetrics.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// NewRecorder constructs the event recorder.
func NewRecorder(store Store, opts ...RecorderOption) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("event store is required")
	}
	r := &Recorder{
		store:    store,
		redactor: NewRedactor(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record appends one immutable event. Client IP and User-Agent come from the
// request context; the parsed browser/OS is folded into details so SIEM
// consumers don't re-parse UA strings.
//
// Persistence is best-effort from the caller's perspective: a failure to
// append is returned, but it is also logged and counted here because most
// call sites deliberately ignore the error rather than fail the user-facing
// operation. Nothing is ever dropped silently.
func (r *Recorder) Record(ctx context.Context, entry Entry) (Event, error) {
	details := r.redactor.Redact(entry.Details)
	if entry.Err != nil {
		if details == nil {
			details = make(map[string]any, 1)
		}
		details["error"] = entry.Err.Error()
	}

	ua := requestcontext.UserAgent(ctx)
	if ua != "" {
		if details == nil {
			details = make(map[string]any, 1)
		}
		details["client"] = parseClient(ua)
	}

	event := Event{
		Timestamp: requestcontext.Now(ctx),
		Actor:     entry.Actor,
		ActorRole: entry.ActorRole,
		Action:    CanonicalAction(entry.EventType),
		Resource:  entry.Resource,
		Details:   details,
		IP:        requestcontext.ClientIP(ctx),
		UserAgent: ua,
		Success:   entry.Success,
	}

	stored, err := r.store.Append(ctx, event)
	if err != nil {
		// The audit trail is the only forensic record; a failed append is
		// itself a security-relevant incident and must leave a diagnostic.
		r.logger.ErrorContext(ctx, "failed to persist security event",
			"action", event.Action,
			"actor", event.Actor,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		if r.metrics != nil {
			r.metrics.RecordFailures.Inc()
		}
		return Event{}, err
	}

	if r.metrics != nil {
		r.metrics.EventsRecorded.WithLabelValues(stored.Action).Inc()
	}
	return stored, nil
}

func parseClient(uaString string) map[string]any {
	ua := useragent.New(uaString)
	name, version := ua.Browser()
	return map[string]any{
		"browser": name,
		"version": version,
		"os":      ua.OS(),
		"mobile":  ua.Mobile(),
		"bot":     ua.Bot(),
	}
}
