// Package alert governs automatic alert creation from anomaly reports:
// fingerprinting, cooldowns, and role-capped silences.
package alert

import (
	"context"
	"time"

	"vigil/internal/audit"
)

// Alert statuses.
const (
	StatusOpen         = "open"
	StatusAcknowledged = "acknowledged"
)

// Alert severities. An alert is urgent when any contributing anomaly is
// high-severity, high otherwise.
const (
	SeverityHigh   = "high"
	SeverityUrgent = "urgent"
)

// Alert is an auto-created security alert tied to a set of anomalies.
type Alert struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Severity       string          `json:"severity"`
	Status         string          `json:"status"`
	Fingerprint    string          `json:"fingerprint"`
	Anomalies      []audit.Anomaly `json:"anomalies"`
	WindowMinutes  int             `json:"window_minutes"`
	CreatedAt      time.Time       `json:"created_at"`
	AcknowledgedBy string          `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
}

// Store persists alerts.
type Store interface {
	// Create stores a new alert; sentinel.ErrConflict on a duplicate ID.
	Create(ctx context.Context, alert *Alert) error
	// Get returns the alert or sentinel.ErrNotFound.
	Get(ctx context.Context, id string) (*Alert, error)
	// Update replaces an existing alert; sentinel.ErrNotFound when absent.
	Update(ctx context.Context, alert *Alert) error
	// List returns all alerts ordered by creation time, newest first.
	List(ctx context.Context) ([]Alert, error)
}

// Silence is one active suppression of a fingerprint. RemainingSeconds is
// derived from the request time when the silence is read back.
type Silence struct {
	Fingerprint      string    `json:"fingerprint"`
	SilencedBy       string    `json:"silenced_by"`
	Role             string    `json:"role"`
	AlertID          string    `json:"alert_id,omitempty"`
	Until            time.Time `json:"until"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}
