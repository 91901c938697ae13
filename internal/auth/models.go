// Package auth is the token lifecycle authority: it issues, verifies,
// rotates, and revokes short-lived credentials and owns account lockout.
// It is the sole issuer and verifier of bearer tokens in the system.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token types issued by the authority.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
	TokenTypeWS      = "ws"
)

// Claims are the JWT claims carried by every token. Subject is the
// username; RegisteredClaims.ID is the token ID used for revocation.
//
// AuthTime is the original authentication instant and is carried unchanged
// across refresh rotations within one session, bounding total session
// lifetime independent of individual token TTLs.
type Claims struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
	TokenType   string   `json:"token_type"`
	SessionID   string   `json:"session_id"`
	AuthTime    int64    `json:"auth_time"`
	WSScope     string   `json:"ws_scope,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair is the access+refresh pair issued at login and refresh. Both
// tokens share one session ID.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Identity is a resolved principal from the directory.
type Identity struct {
	Username     string
	Role         string
	Permissions  []string
	PasswordHash string
}
