// Package handler exposes the anomaly report and alert governance endpoints.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vigil/internal/alert"
	"vigil/internal/audit"
	"vigil/internal/platform/config"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/httputil"
	"vigil/pkg/requestcontext"
)

// Handler serves the anomaly and alert endpoints.
type Handler struct {
	detector *audit.Detector
	governor *alert.Governor
	cfg      config.AnomalyConfig
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// New constructs the anomaly/alert handler.
func New(detector *audit.Detector, governor *alert.Governor, cfg config.AnomalyConfig, opts ...Option) (*Handler, error) {
	if detector == nil {
		return nil, errors.New("anomaly detector is required")
	}
	if governor == nil {
		return nil, errors.New("alert governor is required")
	}
	h := &Handler{detector: detector, governor: governor, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the endpoints; the caller gates them behind admin auth.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit/security-anomalies", h.anomalies)
	r.Put("/alerts/{alertID}/acknowledge-security", h.acknowledge)
	r.Get("/audit/security-silences", h.listSilences)
	r.Post("/audit/security-silences", h.renewSilence)
	r.Delete("/audit/security-silences", h.clearSilence)
}

// anomalyResponse is the report plus the optional auto-create decision.
type anomalyResponse struct {
	*audit.Report
	Alert *alert.Decision `json:"alert,omitempty"`
}

func (h *Handler) anomalies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	windowMinutes := h.cfg.DefaultWindowMinutes
	if raw := query.Get("window_minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "window_minutes must be a positive integer"))
			return
		}
		windowMinutes = n
	}

	// Any "<event>_threshold" query parameter overrides that event's
	// configured threshold for this request only.
	overrides := make(map[string]int)
	for key, values := range query {
		event, ok := strings.CutSuffix(key, "_threshold")
		if !ok || event == "" || len(values) == 0 {
			continue
		}
		n, err := strconv.Atoi(values[0])
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, key+" must be a positive integer"))
			return
		}
		overrides[event] = n
	}

	report, err := h.detector.Report(ctx, windowMinutes, overrides)
	if err != nil {
		h.writeError(w, ctx, "anomaly report failed", err)
		return
	}

	resp := anomalyResponse{Report: report}
	if query.Get("auto_create_alert") == "true" {
		var cooldown time.Duration
		if raw := query.Get("alert_cooldown_minutes"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "alert_cooldown_minutes must be a positive integer"))
				return
			}
			cooldown = time.Duration(n) * time.Minute
		}
		decision, err := h.governor.MaybeAutoCreate(ctx, report, cooldown)
		if err != nil {
			h.writeError(w, ctx, "auto-create evaluation failed", err)
			return
		}
		resp.Alert = decision
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alertID := chi.URLParam(r, "alertID")
	query := r.URL.Query()

	silenceMinutes := 0
	if raw := query.Get("silence_minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "silence_minutes must be a non-negative integer"))
			return
		}
		silenceMinutes = n
	}

	acked, err := h.governor.Acknowledge(ctx, alertID, silenceMinutes, query.Get("reason"))
	if err != nil {
		h.writeError(w, ctx, "acknowledge failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, acked)
}

func (h *Handler) listSilences(w http.ResponseWriter, r *http.Request) {
	silences, err := h.governor.ListActiveSilences(r.Context())
	if err != nil {
		h.writeError(w, r.Context(), "list silences failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"silences": silences})
}

type renewSilenceRequest struct {
	Fingerprint    string `json:"fingerprint"`
	SilenceMinutes int    `json:"silence_minutes"`
}

func (h *Handler) renewSilence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[renewSilenceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if req.Fingerprint == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "fingerprint is required"))
		return
	}

	silence, err := h.governor.RenewSilence(ctx, req.Fingerprint, req.SilenceMinutes)
	if err != nil {
		h.writeError(w, ctx, "renew silence failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, silence)
}

func (h *Handler) clearSilence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fingerprint := r.URL.Query().Get("fingerprint")
	if fingerprint == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "fingerprint is required"))
		return
	}

	if err := h.governor.ClearSilence(ctx, fingerprint); err != nil {
		h.writeError(w, ctx, "clear silence failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, ctx context.Context, msg string, err error) {
	if dErrors.GetCode(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	}
	httputil.WriteError(w, err)
}
