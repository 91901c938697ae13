package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"vigil/internal/audit"
	authmetrics "vigil/internal/auth/metrics"
	"vigil/internal/platform/config"
	"vigil/internal/registry"
	"vigil/pkg/platform/sentinel"
	"vigil/pkg/requestcontext"
)

// Registry key prefixes. Revocation entries carry the TTL of the credential
// they block, so the lists never grow unbounded.
const (
	revokedTokenKeyPrefix   = "auth:trl:jti:"
	revokedSessionKeyPrefix = "auth:trl:session:"
	lastLogoutKeyPrefix     = "auth:logout:"
)

// dummyHash keeps the password comparison on the unknown-user path so
// response timing does not reveal whether a username exists.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Authority issues, verifies, rotates, and revokes credentials. Expected
// failures (wrong password, expired token) come back as discriminated
// errors, never panics; only infrastructure faults are wrapped errors.
type Authority struct {
	cfg        config.TokenConfig
	signingKey []byte
	directory  Directory
	reg        registry.Store
	recorder   *audit.Recorder
	lockout    *lockoutTracker
	logger     *slog.Logger
	metrics    *authmetrics.Metrics
}

// Option configures an Authority.
type Option func(*Authority)

// WithLogger sets the authority's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authority) { a.logger = logger }
}

// WithMetrics sets the authority's metrics.
func WithMetrics(m *authmetrics.Metrics) Option {
	return func(a *Authority) { a.metrics = m }
}

// New constructs the token authority.
func New(cfg config.TokenConfig, directory Directory, reg registry.Store, recorder *audit.Recorder, opts ...Option) (*Authority, error) {
	if directory == nil {
		return nil, errors.New("directory is required")
	}
	if reg == nil {
		return nil, errors.New("registry store is required")
	}
	if recorder == nil {
		return nil, errors.New("event recorder is required")
	}
	if cfg.SigningSecret == "" {
		return nil, errors.New("token signing secret is required")
	}

	a := &Authority{
		cfg:        cfg,
		signingKey: []byte(cfg.SigningSecret),
		directory:  directory,
		reg:        reg,
		recorder:   recorder,
		lockout:    newLockoutTracker(reg, cfg.MaxFailedAttempts, cfg.FailureWindow, cfg.LockoutDuration),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// IssueParams describes one token to mint.
type IssueParams struct {
	Identity  *Identity
	TokenType string
	// SessionID groups the token into an existing session; empty mints a
	// new session.
	SessionID string
	// AuthTime is the original authentication instant, carried across
	// rotations. Zero means "now".
	AuthTime time.Time
	// WSScope is required for ws tokens and rejected otherwise.
	WSScope string
}

// Issue mints a signed token. It has no side effects beyond construction:
// nothing is stored, which is what keeps issuance cheap and stateless.
func (a *Authority) Issue(ctx context.Context, params IssueParams) (string, *Claims, error) {
	if params.Identity == nil {
		return "", nil, errors.New("identity is required")
	}

	var ttl time.Duration
	switch params.TokenType {
	case TokenTypeAccess:
		ttl = a.cfg.AccessTTL
	case TokenTypeRefresh:
		ttl = a.cfg.RefreshTTL
	case TokenTypeWS:
		if params.WSScope == "" {
			return "", nil, errors.New("ws tokens require a scope")
		}
		ttl = a.cfg.WSTokenTTL
	default:
		return "", nil, fmt.Errorf("unsupported token type %q", params.TokenType)
	}
	if params.TokenType != TokenTypeWS && params.WSScope != "" {
		return "", nil, fmt.Errorf("ws_scope is not valid for %s tokens", params.TokenType)
	}

	now := requestcontext.Now(ctx)
	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	authTime := params.AuthTime
	if authTime.IsZero() {
		authTime = now
	}

	claims := &Claims{
		Role:        params.Identity.Role,
		Permissions: params.Identity.Permissions,
		TokenType:   params.TokenType,
		SessionID:   sessionID,
		AuthTime:    authTime.Unix(),
		WSScope:     params.WSScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   params.Identity.Username,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify validates a bearer token and returns its claims. expectedType may
// be empty to accept any type. Rejections are recorded in the audit trail
// with their specific reason; the caller decides what reaches the wire.
func (a *Authority) Verify(ctx context.Context, tokenString, expectedType string) (*Claims, error) {
	claims, err := a.verify(ctx, tokenString, expectedType)
	if err != nil {
		actor := ""
		if claims != nil {
			actor = claims.Subject
		}
		_, _ = a.recorder.Record(ctx, audit.Entry{
			EventType: audit.ActionTokenRejected,
			Actor:     actor,
			Success:   false,
			Details:   map[string]any{"reason": failureReason(err)},
		})
		return nil, err
	}
	return claims, nil
}

// verify is the hot path executed on every authenticated request: one parse
// plus bounded registry lookups, no audit write on success.
func (a *Authority) verify(ctx context.Context, tokenString, expectedType string) (*Claims, error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		if a.metrics != nil {
			a.metrics.VerifyDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
			a.metrics.Verifications.WithLabelValues(outcome).Inc()
		}
	}()

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return a.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			outcome = "expired"
			return claims, ErrTokenExpired
		}
		outcome = "malformed"
		return nil, ErrTokenMalformed
	}
	if !parsed.Valid {
		outcome = "malformed"
		return nil, ErrTokenMalformed
	}

	if expectedType != "" && claims.TokenType != expectedType {
		outcome = "wrong_type"
		return claims, ErrTokenWrongType
	}

	if _, err := a.directory.FindByUsername(ctx, claims.Subject); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			outcome = "unknown_subject"
			return claims, ErrUnknownSubject
		}
		return claims, fmt.Errorf("resolve subject: %w", err)
	}

	if revoked, err := a.isRevoked(ctx, claims); err != nil {
		return claims, err
	} else if revoked {
		outcome = "revoked"
		return claims, ErrTokenRevoked
	}

	if stale, err := a.isStale(ctx, claims); err != nil {
		return claims, err
	} else if stale {
		outcome = "stale_session"
		return claims, ErrSessionStale
	}

	now := requestcontext.Now(ctx)
	if now.Sub(time.Unix(claims.AuthTime, 0)) > a.cfg.MaxSessionLifetime {
		outcome = "session_too_old"
		return claims, ErrSessionTooOld
	}

	return claims, nil
}

func (a *Authority) isRevoked(ctx context.Context, claims *Claims) (bool, error) {
	if item, err := a.reg.Get(ctx, revokedTokenKeyPrefix+claims.ID); err != nil {
		return false, fmt.Errorf("check token revocation: %w", err)
	} else if item != nil {
		return true, nil
	}
	if item, err := a.reg.Get(ctx, revokedSessionKeyPrefix+claims.SessionID); err != nil {
		return false, fmt.Errorf("check session revocation: %w", err)
	} else if item != nil {
		return true, nil
	}
	return false, nil
}

// isStale reports whether the subject logged out after this token was
// issued. Session-wide revocation plus this check rejects any outstanding
// token issued before the logout instant, even if its own ID was never
// individually revoked.
func (a *Authority) isStale(ctx context.Context, claims *Claims) (bool, error) {
	item, err := a.reg.Get(ctx, lastLogoutKeyPrefix+claims.Subject)
	if err != nil {
		return false, fmt.Errorf("check last logout: %w", err)
	}
	if item == nil || claims.IssuedAt == nil {
		return false, nil
	}
	var logoutUnix int64
	if _, err := fmt.Sscanf(item.Value, "%d", &logoutUnix); err != nil {
		return false, nil
	}
	return logoutUnix >= claims.IssuedAt.Unix(), nil
}

// Authenticate checks credentials under the lockout policy. Check order is
// deliberate: an active lock short-circuits before any password work, a
// failure registers toward the threshold, and success clears history.
func (a *Authority) Authenticate(ctx context.Context, username, password string) (*Identity, error) {
	now := requestcontext.Now(ctx)

	if locked, remaining, err := a.lockout.Check(ctx, username, now); err != nil {
		return nil, err
	} else if locked {
		a.countLogin("locked")
		lockErr := &AccountLockedError{RetryAfter: remaining}
		_, _ = a.recorder.Record(ctx, audit.Entry{
			EventType: audit.ActionLoginFailed,
			Actor:     username,
			Success:   false,
			Details: map[string]any{
				"reason":        "account_locked",
				"retry_after_s": lockErr.RetryAfterSeconds(),
			},
		})
		return nil, lockErr
	}

	identity, err := a.directory.FindByUsername(ctx, username)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	hash := dummyHash
	if identity != nil {
		hash = []byte(identity.PasswordHash)
	}
	credentialsOK := bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil && identity != nil

	if !credentialsOK {
		tipped, lockFor, err := a.lockout.RecordFailure(ctx, username, now)
		if err != nil {
			return nil, err
		}
		if tipped {
			a.countLogin("locked")
			if a.metrics != nil {
				a.metrics.LockoutsTriggered.Inc()
			}
			_, _ = a.recorder.Record(ctx, audit.Entry{
				EventType: audit.ActionAccountLocked,
				Actor:     username,
				Success:   false,
				Details:   map[string]any{"locked_for_s": int(lockFor.Seconds())},
			})
			return nil, &AccountLockedError{RetryAfter: lockFor}
		}
		a.countLogin("failed")
		_, _ = a.recorder.Record(ctx, audit.Entry{
			EventType: audit.ActionLoginFailed,
			Actor:     username,
			Success:   false,
			Details:   map[string]any{"reason": "invalid_credentials"},
		})
		return nil, ErrInvalidCredentials
	}

	if err := a.lockout.Clear(ctx, username); err != nil {
		return nil, err
	}
	a.countLogin("success")
	return identity, nil
}

// Login authenticates and, on success, mints an access+refresh pair sharing
// a fresh session ID.
func (a *Authority) Login(ctx context.Context, username, password string) (*TokenPair, *Identity, error) {
	identity, err := a.Authenticate(ctx, username, password)
	if err != nil {
		return nil, nil, err
	}

	pair, sessionID, err := a.issuePair(ctx, identity, "", time.Time{})
	if err != nil {
		return nil, nil, err
	}

	_, _ = a.recorder.Record(ctx, audit.Entry{
		EventType: audit.ActionLoginSuccess,
		Actor:     identity.Username,
		ActorRole: identity.Role,
		Success:   true,
		Details:   map[string]any{"session_id": sessionID},
	})
	return pair, identity, nil
}

// Rotate consumes a refresh token and issues a replacement pair for the
// same session. The consumed token's ID is revoked before the replacement
// is minted, so refresh tokens are single-use: replaying one fails with
// a revocation error.
//
// Check-then-act without cross-process locking: correct on a single
// instance; two instances racing the same refresh token can both succeed.
func (a *Authority) Rotate(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := a.verify(ctx, refreshToken, TokenTypeRefresh)
	if err != nil {
		actor := ""
		if claims != nil {
			actor = claims.Subject
		}
		_, _ = a.recorder.Record(ctx, audit.Entry{
			EventType: audit.ActionRefreshFailed,
			Actor:     actor,
			Success:   false,
			Details:   map[string]any{"reason": "invalid_refresh_token"},
		})
		return nil, err
	}

	identity, err := a.directory.FindByUsername(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("resolve subject: %w", err)
	}

	if err := a.revokeTokenID(ctx, claims); err != nil {
		return nil, err
	}

	pair, _, err := a.issuePair(ctx, identity, claims.SessionID, time.Unix(claims.AuthTime, 0))
	if err != nil {
		return nil, err
	}

	_, _ = a.recorder.Record(ctx, audit.Entry{
		EventType: audit.ActionTokenRefreshed,
		Actor:     identity.Username,
		ActorRole: identity.Role,
		Success:   true,
		Details:   map[string]any{"session_id": claims.SessionID},
	})
	return pair, nil
}

// IssueWS mints a scoped websocket token within the caller's session. The
// ws token inherits the session's original auth time, so it cannot outlive
// the maximum session lifetime.
func (a *Authority) IssueWS(ctx context.Context, username, sessionID string, authTime int64, scope string) (string, error) {
	identity, err := a.directory.FindByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("resolve subject: %w", err)
	}

	token, _, err := a.Issue(ctx, IssueParams{
		Identity:  identity,
		TokenType: TokenTypeWS,
		SessionID: sessionID,
		AuthTime:  time.Unix(authTime, 0),
		WSScope:   scope,
	})
	if err != nil {
		return "", err
	}

	_, _ = a.recorder.Record(ctx, audit.Entry{
		EventType: audit.ActionWSTokenIssued,
		Actor:     identity.Username,
		ActorRole: identity.Role,
		Success:   true,
		Details:   map[string]any{"scope": scope, "session_id": sessionID},
	})
	return token, nil
}

// RevokeCurrent revokes the presented credential identified by its token
// and session IDs; the HTTP logout handler calls this with the principal
// the middleware already verified.
func (a *Authority) RevokeCurrent(ctx context.Context, username, role, sessionID, tokenID string, revokeSession bool) error {
	claims := &Claims{
		Role:      role,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: username,
			ID:      tokenID,
		},
	}
	return a.Revoke(ctx, claims, revokeSession)
}

// Revoke marks the token's ID revoked until its natural expiry. With
// revokeSession it additionally revokes the session ID and stamps the
// subject's last-logout instant, invalidating every token issued before now.
func (a *Authority) Revoke(ctx context.Context, claims *Claims, revokeSession bool) error {
	if err := a.revokeTokenID(ctx, claims); err != nil {
		return err
	}

	now := requestcontext.Now(ctx)
	if revokeSession {
		// The session key only needs to outlive the longest credential
		// that could still reference it.
		if err := a.reg.Put(ctx, revokedSessionKeyPrefix+claims.SessionID, "1", a.cfg.RefreshTTL); err != nil {
			return fmt.Errorf("revoke session: %w", err)
		}
		if err := a.reg.Put(ctx, lastLogoutKeyPrefix+claims.Subject,
			fmt.Sprintf("%d", now.Unix()), a.cfg.MaxSessionLifetime); err != nil {
			return fmt.Errorf("stamp last logout: %w", err)
		}
	}

	_, _ = a.recorder.Record(ctx, audit.Entry{
		EventType: audit.ActionTokenRevoked,
		Actor:     claims.Subject,
		ActorRole: claims.Role,
		Success:   true,
		Details: map[string]any{
			"session_id":      claims.SessionID,
			"session_revoked": revokeSession,
		},
	})
	return nil
}

func (a *Authority) revokeTokenID(ctx context.Context, claims *Claims) error {
	ttl := a.cfg.RefreshTTL
	if claims.ExpiresAt != nil {
		if remaining := time.Until(claims.ExpiresAt.Time); remaining > 0 {
			ttl = remaining
		} else {
			ttl = time.Second
		}
	}
	if err := a.reg.Put(ctx, revokedTokenKeyPrefix+claims.ID, "1", ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (a *Authority) issuePair(ctx context.Context, identity *Identity, sessionID string, authTime time.Time) (*TokenPair, string, error) {
	access, accessClaims, err := a.Issue(ctx, IssueParams{
		Identity:  identity,
		TokenType: TokenTypeAccess,
		SessionID: sessionID,
		AuthTime:  authTime,
	})
	if err != nil {
		return nil, "", err
	}
	refresh, _, err := a.Issue(ctx, IssueParams{
		Identity:  identity,
		TokenType: TokenTypeRefresh,
		SessionID: accessClaims.SessionID,
		AuthTime:  authTime,
	})
	if err != nil {
		return nil, "", err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(a.cfg.AccessTTL.Seconds()),
	}, accessClaims.SessionID, nil
}

// WSTokenTTLSeconds exposes the ws token lifetime for response bodies.
func (a *Authority) WSTokenTTLSeconds() int {
	return int(a.cfg.WSTokenTTL.Seconds())
}

func (a *Authority) countLogin(outcome string) {
	if a.metrics != nil {
		a.metrics.LoginAttempts.WithLabelValues(outcome).Inc()
	}
}
