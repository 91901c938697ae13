// Package audit is the append-only security-event trail and the windowed
// anomaly report computed over it. It is the system's only forensic record:
// every authentication and authorization decision lands here exactly once.
package audit

import (
	"strings"
	"time"
	"unicode"
)

// ActionPrefix marks security telemetry rows, distinguishing them from any
// other audit actions a collaborator might write into the same table.
const ActionPrefix = "SECURITY_"

// Event is one immutable audit row. Rows are never mutated after append and
// are deleted only by the retention manager.
//
// The ordering key is (Timestamp, ID) - never Timestamp alone, because
// multiple events can share a timestamp. ID strictly increases with
// insertion and disambiguates ties.
type Event struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor_username"`
	ActorRole string         `json:"actor_role,omitempty"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Success   bool           `json:"success"`
}

// Cursor identifies an exact, disambiguated position in the event log.
// Export resumes strictly after (Since, AfterID).
type Cursor struct {
	Since   time.Time `json:"since"`
	AfterID int64     `json:"after_id"`
}

// Before reports whether c precedes other in (timestamp, id) order.
func (c Cursor) Before(other Cursor) bool {
	if c.Since.Before(other.Since) {
		return true
	}
	return c.Since.Equal(other.Since) && c.AfterID < other.AfterID
}

// CanonicalAction normalizes an event type to its SECURITY_<UPPER_SNAKE>
// action name. "login_failed", "login-failed", "LoginFailed" and
// "SECURITY_LOGIN_FAILED" all map to "SECURITY_LOGIN_FAILED".
func CanonicalAction(eventType string) string {
	name := strings.TrimSpace(eventType)
	name = strings.TrimPrefix(name, ActionPrefix)
	name = strings.TrimPrefix(name, strings.ToLower(ActionPrefix))

	var b strings.Builder
	b.Grow(len(name) + len(ActionPrefix) + 4)
	b.WriteString(ActionPrefix)

	prevLower := false
	for _, r := range name {
		switch {
		case r == '-' || r == ' ' || r == '.' || r == '_':
			b.WriteByte('_')
			prevLower = false
		case unicode.IsUpper(r) && prevLower:
			b.WriteByte('_')
			b.WriteRune(r)
			prevLower = false
		default:
			b.WriteRune(unicode.ToUpper(r))
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
	}
	return b.String()
}

// Well-known actions recorded by this subsystem. Collaborators may record
// additional event types; these are the ones produced internally.
const (
	ActionLoginSuccess     = "SECURITY_LOGIN_SUCCESS"
	ActionLoginFailed      = "SECURITY_LOGIN_FAILED"
	ActionAccountLocked    = "SECURITY_ACCOUNT_LOCKED"
	ActionTokenRejected    = "SECURITY_TOKEN_REJECTED"
	ActionTokenRevoked     = "SECURITY_TOKEN_REVOKED"
	ActionTokenRefreshed   = "SECURITY_TOKEN_REFRESHED"
	ActionRefreshFailed    = "SECURITY_REFRESH_FAILED"
	ActionWSTokenIssued    = "SECURITY_WS_TOKEN_ISSUED"
	ActionPermissionDenied = "SECURITY_PERMISSION_DENIED"
	ActionAlertAutoCreated = "SECURITY_ALERT_AUTO_CREATED"
	ActionAlertAcked       = "SECURITY_ALERT_ACKNOWLEDGED"
	ActionSilenceRenewed   = "SECURITY_ALERT_SILENCE_RENEWED"
	ActionSilenceCleared   = "SECURITY_ALERT_SILENCE_CLEARED"
	ActionExportCheckpoint = "SECURITY_EXPORT_CHECKPOINT"
	ActionRetentionPurge   = "SECURITY_RETENTION_PURGE"
)
