package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vigil/internal/audit"
	"vigil/internal/platform/config"
	"vigil/internal/registry"
	"vigil/pkg/requestcontext"
)

type AuthoritySuite struct {
	suite.Suite
	ctx       context.Context
	cfg       config.TokenConfig
	store     *audit.InMemoryStore
	directory *InMemoryDirectory
	authority *Authority
}

func TestAuthoritySuite(t *testing.T) {
	suite.Run(t, new(AuthoritySuite))
}

func (s *AuthoritySuite) SetupTest() {
	s.ctx = context.Background()
	s.cfg = config.TokenConfig{
		SigningSecret:      "test-signing-secret",
		AccessTTL:          15 * time.Minute,
		RefreshTTL:         8 * time.Hour,
		WSTokenTTL:         2 * time.Minute,
		MaxSessionLifetime: 12 * time.Hour,
		MaxFailedAttempts:  5,
		FailureWindow:      5 * time.Minute,
		LockoutDuration:    15 * time.Minute,
	}
	s.store = audit.NewInMemoryStore()
	recorder, err := audit.NewRecorder(s.store)
	s.Require().NoError(err)

	s.directory = NewInMemoryDirectory()
	s.Require().NoError(s.directory.Add("alice", "correct-horse", "admin", []string{"audit:read"}))

	s.authority, err = New(s.cfg, s.directory, registry.NewInMemory(), recorder)
	s.Require().NoError(err)
}

func (s *AuthoritySuite) counts() map[string]int {
	totals, err := s.store.CountByActionSince(s.ctx, time.Time{})
	s.Require().NoError(err)
	return totals
}

func (s *AuthoritySuite) TestLoginVerifyRoundTrip() {
	pair, identity, err := s.authority.Login(s.ctx, "alice", "correct-horse")
	s.Require().NoError(err)
	s.Equal("alice", identity.Username)
	s.Equal("Bearer", pair.TokenType)
	s.Equal(int(s.cfg.AccessTTL.Seconds()), pair.ExpiresIn)

	claims, err := s.authority.Verify(s.ctx, pair.AccessToken, TokenTypeAccess)
	s.Require().NoError(err)
	s.Equal("alice", claims.Subject)
	s.Equal("admin", claims.Role)
	s.Equal(TokenTypeAccess, claims.TokenType)
	s.NotEmpty(claims.SessionID)
	s.NotZero(claims.AuthTime)

	s.Equal(1, s.counts()[audit.ActionLoginSuccess])
}

func (s *AuthoritySuite) TestVerifyRejectsWrongType() {
	pair, _, err := s.authority.Login(s.ctx, "alice", "correct-horse")
	s.Require().NoError(err)

	_, err = s.authority.Verify(s.ctx, pair.AccessToken, TokenTypeRefresh)
	s.ErrorIs(err, ErrTokenWrongType)
	s.Equal(1, s.counts()[audit.ActionTokenRejected])
}

func (s *AuthoritySuite) TestVerifyRejectsMalformed() {
	_, err := s.authority.Verify(s.ctx, "not-a-token", TokenTypeAccess)
	s.ErrorIs(err, ErrTokenMalformed)
}

func (s *AuthoritySuite) TestVerifyRejectsExpired() {
	past := requestcontext.WithTime(s.ctx, time.Now().Add(-time.Hour))
	pair, _, err := s.authority.Login(past, "alice", "correct-horse")
	s.Require().NoError(err)

	_, err = s.authority.Verify(s.ctx, pair.AccessToken, TokenTypeAccess)
	s.ErrorIs(err, ErrTokenExpired)
}

func (s *AuthoritySuite) TestVerifyRejectsUnknownSubject() {
	pair, _, err := s.authority.Login(s.ctx, "alice", "correct-horse")
	s.Require().NoError(err)

	s.directory.Remove("alice")
	_, err = s.authority.Verify(s.ctx, pair.AccessToken, TokenTypeAccess)
	s.ErrorIs(err, ErrUnknownSubject)
}

func (s *AuthoritySuite) TestVerifyRejectsSessionPastMaxLifetime() {
	// Token still within its own TTL, but the session began too long ago.
	s.cfg.AccessTTL = 24 * time.Hour
	s.cfg.MaxSessionLifetime = time.Hour
	recorder, err := audit.NewRecorder(s.store)
	s.Require().NoError(err)
	authority, err := New(s.cfg, s.directory, registry.NewInMemory(), recorder)
	s.Require().NoError(err)

	past := requestcontext.WithTime(s.ctx, time.Now().Add(-2*time.Hour))
	pair, _, err := authority.Login(past, "alice", "correct-horse")
	s.Require().NoError(err)

	_, err = authority.Verify(s.ctx, pair.AccessToken, TokenTypeAccess)
	s.ErrorIs(err, ErrSessionTooOld)
}

func (s *AuthoritySuite) TestAuthenticateWrongPassword() {
	_, err := s.authority.Authenticate(s.ctx, "alice", "wrong")
	s.ErrorIs(err, ErrInvalidCredentials)
	s.Equal(1, s.counts()[audit.ActionLoginFailed])
}

func (s *AuthoritySuite) TestAuthenticateUnknownUserLooksIdentical() {
	_, err := s.authority.Authenticate(s.ctx, "mallory", "anything")
	s.ErrorIs(err, ErrInvalidCredentials)
}

func (s *AuthoritySuite) TestLockoutAfterThresholdFailures() {
	for range s.cfg.MaxFailedAttempts - 1 {
		_, err := s.authority.Authenticate(s.ctx, "alice", "wrong")
		s.ErrorIs(err, ErrInvalidCredentials)
	}

	// The tipping failure reports the lock, not invalid credentials.
	_, err := s.authority.Authenticate(s.ctx, "alice", "wrong")
	var locked *AccountLockedError
	s.Require().ErrorAs(err, &locked)
	s.Positive(locked.RetryAfterSeconds())
	s.Equal(1, s.counts()[audit.ActionAccountLocked])

	// The correct password doesn't open a locked account.
	_, err = s.authority.Authenticate(s.ctx, "alice", "correct-horse")
	s.ErrorAs(err, &locked)
}

func (s *AuthoritySuite) TestSuccessClearsFailureHistory() {
	for range s.cfg.MaxFailedAttempts - 1 {
		_, _ = s.authority.Authenticate(s.ctx, "alice", "wrong")
	}
	_, err := s.authority.Authenticate(s.ctx, "alice", "correct-horse")
	s.Require().NoError(err)

	// The counter restarted; the next failure is the first of a new window.
	_, err = s.authority.Authenticate(s.ctx, "alice", "wrong")
	s.ErrorIs(err, ErrInvalidCredentials)
}

func (s *AuthoritySuite) TestRotateIsSingleUse() {
	pair, _, err := s.authority.Login(s.ctx, "alice", "correct-horse")
	s.Require().NoError(err)

	rotated, err := s.authority.Rotate(s.ctx, pair.RefreshToken)
	s.Require().NoError(err)
	s.NotEqual(pair.RefreshToken, rotated.RefreshToken)

	// Replaying the consumed refresh token fails as revoked.
	_, err = s.authority.Rotate(s.ctx, pair.RefreshToken)
	s.ErrorIs(err, ErrTokenRevoked)
	s.Equal(1, s.counts()[audit.ActionRefreshFailed])
}

func (s *AuthoritySuite) TestRotatePreservesSessionAndAuthTime() {
	pair, _, err := s.authority.Login(s.ctx, "alice", "correct-horse")
	s.Require().NoError(err)
	original, err := s.authority.Verify(s.ctx, pair.AccessToken, TokenTypeAccess)
	s.Require().NoError(err)

	rotated, err := s.authority.Rotate(s.ctx, pair.RefreshToken)
	s.Require().NoError(err)
	claims, err := s.authority.Verify(s.ctx, rotated.AccessToken, TokenTypeAccess)
	s.Require().NoError(err)

	s.Equal(original.SessionID, claims.SessionID)
	s.Equal(original.AuthTime, claims.AuthTime)
	s.NotEqual(original.ID, claims.ID)
}

func (s *AuthoritySuite) TestRotateRejectsAccessToken() {
	pair, _, err := s.authority.Login(s.ctx, "alice", "correct-horse")
	s.Require().NoError(err)

	_, err = s.authority.Rotate(s.ctx, pair.AccessToken)
	s.ErrorIs(err, ErrTokenWrongType)
}

func (s *AuthoritySuite) TestRevokeTokenOnly() {
	pair, _, err := s.authority.Login(s.ctx, "alice", "correct-horse")
	s.Require().NoError(err)
	claims, err := s.authority.Verify(s.ctx, pair.AccessToken, TokenTypeAccess)
	s.Require().NoError(err)

	s.Require().NoError(s.authority.Revoke(s.ctx, claims, false))

	_, err = s.authority.Verify(s.ctx, pair.AccessToken, TokenTypeAccess)
	s.ErrorIs(err, ErrTokenRevoked)

	// The refresh token shares the session but not the token ID; without
	// session revocation it stays valid.
	_, err = s.authority.Verify(s.ctx, pair.RefreshToken, TokenTypeRefresh)
	s.NoError(err)
}

func (s *AuthoritySuite) TestRevokeSessionInvalidatesEverything() {
	issuedAt := time.Now().Add(-2 * time.Second)
	issueCtx := requestcontext.WithTime(s.ctx, issuedAt)
	pair, _, err := s.authority.Login(issueCtx, "alice", "correct-horse")
	s.Require().NoError(err)
	other, _, err := s.authority.Login(issueCtx, "alice", "correct-horse")
	s.Require().NoError(err)

	claims, err := s.authority.Verify(s.ctx, pair.AccessToken, TokenTypeAccess)
	s.Require().NoError(err)
	s.Require().NoError(s.authority.Revoke(s.ctx, claims, true))

	// Same session: revoked outright.
	_, err = s.authority.Verify(s.ctx, pair.RefreshToken, TokenTypeRefresh)
	s.ErrorIs(err, ErrTokenRevoked)

	// Different session, issued before the logout instant: stale.
	_, err = s.authority.Verify(s.ctx, other.AccessToken, TokenTypeAccess)
	s.ErrorIs(err, ErrSessionStale)

	s.Equal(1, s.counts()[audit.ActionTokenRevoked])
}

func (s *AuthoritySuite) TestIssueWSRequiresScope() {
	identity, err := s.directory.FindByUsername(s.ctx, "alice")
	s.Require().NoError(err)

	_, _, err = s.authority.Issue(s.ctx, IssueParams{Identity: identity, TokenType: TokenTypeWS})
	s.Error(err)
}

func (s *AuthoritySuite) TestIssueRejectsScopeOnNonWSTokens() {
	identity, err := s.directory.FindByUsername(s.ctx, "alice")
	s.Require().NoError(err)

	_, _, err = s.authority.Issue(s.ctx, IssueParams{
		Identity: identity, TokenType: TokenTypeAccess, WSScope: "events",
	})
	s.Error(err)
}

func (s *AuthoritySuite) TestIssueWSCarriesSessionAndScope() {
	pair, _, err := s.authority.Login(s.ctx, "alice", "correct-horse")
	s.Require().NoError(err)
	access, err := s.authority.Verify(s.ctx, pair.AccessToken, TokenTypeAccess)
	s.Require().NoError(err)

	token, err := s.authority.IssueWS(s.ctx, access.Subject, access.SessionID, access.AuthTime, "events:stream")
	s.Require().NoError(err)

	claims, err := s.authority.Verify(s.ctx, token, TokenTypeWS)
	s.Require().NoError(err)
	s.Equal("events:stream", claims.WSScope)
	s.Equal(access.SessionID, claims.SessionID)
	s.Equal(access.AuthTime, claims.AuthTime)
	s.Equal(1, s.counts()[audit.ActionWSTokenIssued])
}
