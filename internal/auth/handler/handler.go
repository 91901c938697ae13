// Package handler exposes the token authority over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"vigil/internal/auth"
	"vigil/internal/platform/middleware"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/httputil"
	"vigil/pkg/requestcontext"
)

// Handler serves the authentication endpoints.
type Handler struct {
	authority *auth.Authority
	logger    *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// New constructs the auth handler.
func New(authority *auth.Authority, opts ...Option) (*Handler, error) {
	if authority == nil {
		return nil, errors.New("token authority is required")
	}
	h := &Handler{authority: authority, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// RegisterPublic mounts the unauthenticated endpoints.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/auth/login", h.login)
	r.Post("/auth/refresh", h.refresh)
}

// RegisterProtected mounts the endpoints that require a valid access token.
func (h *Handler) RegisterProtected(r chi.Router) {
	r.Post("/auth/logout", h.logout)
	r.Post("/auth/ws-token", h.wsToken)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.Decode[loginRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "username and password are required"))
		return
	}

	pair, _, err := h.authority.Login(ctx, req.Username, req.Password)
	if err != nil {
		h.writeLoginError(w, ctx, requestID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pair)
}

// writeLoginError keeps credential failures indistinguishable on the wire.
// Lockout is the one exception: disclosing retry_after is required for
// well-behaved clients and reveals nothing about the password.
func (h *Handler) writeLoginError(w http.ResponseWriter, ctx context.Context, requestID string, err error) {
	var locked *auth.AccountLockedError
	if errors.As(err, &locked) {
		w.Header().Set("Retry-After", strconv.Itoa(locked.RetryAfterSeconds()))
		httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":         "account_locked",
			"retry_after_s": locked.RetryAfterSeconds(),
		})
		return
	}
	if errors.Is(err, auth.ErrInvalidCredentials) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials"))
		return
	}
	h.logger.ErrorContext(ctx, "login failed", "request_id", requestID, "error", err)
	httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "login failed"))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.Decode[refreshRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "refresh_token is required"))
		return
	}

	pair, err := h.authority.Rotate(ctx, req.RefreshToken)
	if err != nil {
		if isVerificationFailure(err) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired refresh token"))
			return
		}
		h.logger.ErrorContext(ctx, "token rotation failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "token rotation failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pair)
}

type logoutRequest struct {
	RevokeSession bool `json:"revoke_session"`
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	principal := middleware.GetPrincipal(ctx)

	// Body is optional; absence means revoke only the presented token.
	var req logoutRequest
	if r.Body != nil && r.ContentLength != 0 {
		var ok bool
		req, ok = httputil.Decode[logoutRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
	}

	err := h.authority.RevokeCurrent(ctx, principal.Username, principal.Role,
		principal.SessionID, principal.TokenID, req.RevokeSession)
	if err != nil {
		h.logger.ErrorContext(ctx, "logout failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "logout failed"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type wsTokenRequest struct {
	Scope string `json:"scope"`
}

type wsTokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
	Scope     string `json:"scope"`
}

func (h *Handler) wsToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	principal := middleware.GetPrincipal(ctx)

	req, ok := httputil.Decode[wsTokenRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.Scope == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "scope is required"))
		return
	}

	token, err := h.authority.IssueWS(ctx, principal.Username, principal.SessionID, principal.AuthTime, req.Scope)
	if err != nil {
		h.logger.ErrorContext(ctx, "ws token issuance failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "ws token issuance failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wsTokenResponse{
		Token:     token,
		ExpiresIn: h.authority.WSTokenTTLSeconds(),
		Scope:     req.Scope,
	})
}

func isVerificationFailure(err error) bool {
	return errors.Is(err, auth.ErrTokenMalformed) ||
		errors.Is(err, auth.ErrTokenExpired) ||
		errors.Is(err, auth.ErrTokenRevoked) ||
		errors.Is(err, auth.ErrTokenWrongType) ||
		errors.Is(err, auth.ErrUnknownSubject) ||
		errors.Is(err, auth.ErrSessionStale) ||
		errors.Is(err, auth.ErrSessionTooOld)
}
