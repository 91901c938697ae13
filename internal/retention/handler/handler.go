// Package handler exposes the retention policy and purge endpoints.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/httputil"
	"vigil/pkg/requestcontext"

	"vigil/internal/retention"
)

// Handler serves the retention endpoints.
type Handler struct {
	manager *retention.Manager
	logger  *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// New constructs the retention handler.
func New(manager *retention.Manager, opts ...Option) (*Handler, error) {
	if manager == nil {
		return nil, errors.New("retention manager is required")
	}
	h := &Handler{manager: manager, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the endpoints; the caller gates them behind admin auth.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit/security-retention-policy", h.policy)
	r.Post("/audit/security-retention-purge", h.purge)
}

func (h *Handler) policy(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.manager.Policy())
}

func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	days := 0
	if raw := query.Get("retention_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "retention_days must be an integer"))
			return
		}
		days = n
	}
	includeProtected := query.Get("include_protected_actions") == "true"

	if query.Get("dry_run") == "true" {
		preview, err := h.manager.PreviewPurge(ctx, days, includeProtected)
		if err != nil {
			h.writeError(w, ctx, "purge preview failed", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, preview)
		return
	}

	result, err := h.manager.Purge(ctx, days, includeProtected)
	if err != nil {
		h.writeError(w, ctx, "purge failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) writeError(w http.ResponseWriter, ctx context.Context, msg string, err error) {
	if dErrors.GetCode(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	}
	httputil.WriteError(w, err)
}
