package auth

import (
	"errors"
	"fmt"
	"time"
)

// Discriminated verification and authentication failures. These are expected
// conditions, not exceptions: callers branch on them with errors.Is and only
// the HTTP boundary translates them into status codes.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenMalformed     = errors.New("token malformed")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrTokenWrongType     = errors.New("token wrong type")
	ErrUnknownSubject     = errors.New("unknown subject")
	ErrSessionStale       = errors.New("session superseded by logout")
	ErrSessionTooOld      = errors.New("session exceeded maximum lifetime")
)

// AccountLockedError reports an active lockout. RetryAfter is safe and
// useful to disclose to the caller, unlike the other failure reasons.
type AccountLockedError struct {
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %ds", int(e.RetryAfter.Seconds()))
}

// RetryAfterSeconds rounds up so callers never retry a second early.
func (e *AccountLockedError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// failureReason maps a verification error to the reason recorded in the
// audit trail. The wire response stays generic; this does not.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, ErrTokenWrongType):
		return "wrong_type"
	case errors.Is(err, ErrUnknownSubject):
		return "unknown_subject"
	case errors.Is(err, ErrSessionStale):
		return "stale_session"
	case errors.Is(err, ErrSessionTooOld):
		return "session_too_old"
	default:
		return "error"
	}
}
