// Package http assembles the service's HTTP surface: middleware chain,
// public auth endpoints, and the admin-gated audit surface.
package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	alerthandler "vigil/internal/alert/handler"
	"vigil/internal/audit"
	"vigil/internal/auth"
	authhandler "vigil/internal/auth/handler"
	exporthandler "vigil/internal/export/handler"
	"vigil/internal/platform/middleware"
	retentionhandler "vigil/internal/retention/handler"
	"vigil/pkg/platform/httputil"
)

// authVerifier adapts the token authority to the middleware contract.
type authVerifier struct {
	authority *auth.Authority
}

func (v authVerifier) VerifyBearer(ctx context.Context, token, expectedType string) (*middleware.Principal, error) {
	claims, err := v.authority.Verify(ctx, token, expectedType)
	if err != nil {
		return nil, err
	}
	return &middleware.Principal{
		Username:    claims.Subject,
		Role:        claims.Role,
		Permissions: claims.Permissions,
		SessionID:   claims.SessionID,
		TokenID:     claims.ID,
		AuthTime:    claims.AuthTime,
	}, nil
}

// Deps carries the wired services the router mounts.
type Deps struct {
	Logger           *slog.Logger
	Authority        *auth.Authority
	Recorder         *audit.Recorder
	AuthHandler      *authhandler.Handler
	AlertHandler     *alerthandler.Handler
	ExportHandler    *exporthandler.Handler
	RetentionHandler *retentionhandler.Handler
	// HealthCheck probes backing stores; nil means always healthy.
	HealthCheck func(ctx context.Context) error
}

// New builds the router. The admin role gates the whole audit surface;
// auth endpoints below it manage the caller's own credentials.
func New(deps Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if deps.HealthCheck != nil {
			if err := deps.HealthCheck(req.Context()); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	deps.AuthHandler.RegisterPublic(r)

	r.Group(func(protected chi.Router) {
		protected.Use(middleware.RequireAuth(authVerifier{deps.Authority}, deps.Logger))
		deps.AuthHandler.RegisterProtected(protected)

		protected.Group(func(admin chi.Router) {
			admin.Use(middleware.RequireRole("admin", deps.Recorder))
			deps.AlertHandler.Register(admin)
			deps.ExportHandler.Register(admin)
			deps.RetentionHandler.Register(admin)
		})
	})

	return r
}
