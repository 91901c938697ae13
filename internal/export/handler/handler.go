// Package handler exposes the export pipeline over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"vigil/internal/audit"
	"vigil/internal/export"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/httputil"
	"vigil/pkg/requestcontext"
)

// Handler serves the export and checkpoint endpoints.
type Handler struct {
	pipeline *export.Pipeline
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// New constructs the export handler.
func New(pipeline *export.Pipeline, opts ...Option) (*Handler, error) {
	if pipeline == nil {
		return nil, errors.New("export pipeline is required")
	}
	h := &Handler{pipeline: pipeline, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the endpoints; the caller gates them behind admin auth.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit/security-events-export", h.exportLegacy)
	r.Get("/audit/security-events-export-v2", h.exportV2)
	r.Post("/audit/security-events-export-v2/consumer/{consumerID}", h.exportConsumer)
	r.Get("/audit/security-export-checkpoints/{consumerID}", h.getCheckpoint)
	r.Put("/audit/security-export-checkpoints/{consumerID}", h.putCheckpoint)
}

// exportLegacy serves the original timestamp-only contract. Kept for
// consumers that predate cursor tokens; new integrations use v2.
func (h *Handler) exportLegacy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "since must be RFC 3339"))
			return
		}
		since = parsed
	}
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	batch, err := h.pipeline.ExportSince(ctx, since, limit)
	if err != nil {
		h.writeError(w, ctx, "legacy export failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, batch)
}

// exportV2 resumes either from a signed cursor token or from an explicit
// (since, after_id) position. The token wins when both are supplied.
func (h *Handler) exportV2(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	var cursor audit.Cursor
	switch {
	case query.Get("cursor_token") != "":
		decoded, err := h.pipeline.DecodeCursor(query.Get("cursor_token"))
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid cursor token"))
			return
		}
		cursor = decoded
	case query.Get("since") != "":
		since, err := time.Parse(time.RFC3339, query.Get("since"))
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "since must be RFC 3339"))
			return
		}
		cursor.Since = since
		if raw := query.Get("after_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id < 0 {
				httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "after_id must be a non-negative integer"))
				return
			}
			cursor.AfterID = id
		}
	}
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	batch, err := h.pipeline.Export(ctx, cursor, limit)
	if err != nil {
		h.writeError(w, ctx, "export failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, batch)
}

func (h *Handler) exportConsumer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	consumerID := chi.URLParam(r, "consumerID")

	var bootstrapSince *time.Time
	if raw := r.URL.Query().Get("bootstrap_since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "bootstrap_since must be RFC 3339"))
			return
		}
		bootstrapSince = &parsed
	}
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}

	batch, err := h.pipeline.ExportForConsumer(ctx, consumerID, limit, bootstrapSince)
	if err != nil {
		if errors.Is(err, export.ErrCheckpointMissing) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeConflict,
				"consumer has no checkpoint; supply bootstrap_since"))
			return
		}
		h.writeError(w, ctx, "consumer export failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, batch)
}

type checkpointResponse struct {
	ConsumerID string    `json:"consumer_id"`
	Since      time.Time `json:"since"`
	AfterID    int64     `json:"after_id"`
}

func (h *Handler) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	consumerID := chi.URLParam(r, "consumerID")

	cursor, err := h.pipeline.Checkpoint(ctx, consumerID)
	if err != nil {
		if errors.Is(err, export.ErrCheckpointMissing) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no checkpoint for consumer"))
			return
		}
		h.writeError(w, ctx, "checkpoint lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, checkpointResponse{
		ConsumerID: consumerID,
		Since:      cursor.Since,
		AfterID:    cursor.AfterID,
	})
}

type putCheckpointRequest struct {
	Since   time.Time `json:"since"`
	AfterID int64     `json:"after_id"`
}

func (h *Handler) putCheckpoint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	consumerID := chi.URLParam(r, "consumerID")

	req, ok := httputil.Decode[putCheckpointRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if req.Since.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "since is required"))
		return
	}

	cursor := audit.Cursor{Since: req.Since, AfterID: req.AfterID}
	if err := h.pipeline.SetCheckpoint(ctx, consumerID, cursor); err != nil {
		h.writeError(w, ctx, "checkpoint write failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, checkpointResponse{
		ConsumerID: consumerID,
		Since:      cursor.Since,
		AfterID:    cursor.AfterID,
	})
}

func (h *Handler) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a non-negative integer"))
		return 0, false
	}
	return n, true
}

func (h *Handler) writeError(w http.ResponseWriter, ctx context.Context, msg string, err error) {
	h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, msg))
}
