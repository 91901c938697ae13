package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"vigil/pkg/platform/sentinel"
)

// PostgresStore persists security events in a single append-only table.
// This store is pure I/O; redaction and action canonicalization happen in
// the recorder before rows get here.
//
// Schema (migrations/001_security_events.sql):
//
//	CREATE TABLE security_events (
//	    id          BIGSERIAL PRIMARY KEY,
//	    ts          TIMESTAMPTZ NOT NULL,
//	    actor       TEXT NOT NULL DEFAULT '',
//	    actor_role  TEXT NOT NULL DEFAULT '',
//	    action      TEXT NOT NULL,
//	    resource    TEXT NOT NULL DEFAULT '',
//	    details     JSONB,
//	    ip          TEXT NOT NULL DEFAULT '',
//	    user_agent  TEXT NOT NULL DEFAULT '',
//	    success     BOOLEAN NOT NULL
//	);
//	CREATE INDEX security_events_ts_id_idx ON security_events (ts, id);
//	CREATE INDEX security_events_action_idx ON security_events (action, ts);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed event store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) (Event, error) {
	var details []byte
	if event.Details != nil {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return Event{}, fmt.Errorf("marshal event details: %w", err)
		}
	}

	query := `
		INSERT INTO security_events (ts, actor, actor_role, action, resource, details, ip, user_agent, success)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		event.Timestamp,
		event.Actor,
		event.ActorRole,
		event.Action,
		event.Resource,
		details,
		event.IP,
		event.UserAgent,
		event.Success,
	).Scan(&event.ID)
	if err != nil {
		return Event{}, fmt.Errorf("insert security event: %w", err)
	}
	return event, nil
}

func (s *PostgresStore) ListAfter(ctx context.Context, cursor Cursor, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive: %w", sentinel.ErrInvalidState)
	}

	// Row comparison keeps the compound (ts, id) ordering contract in one
	// index-friendly predicate.
	query := `
		SELECT id, ts, actor, actor_role, action, resource, details, ip, user_agent, success
		FROM security_events
		WHERE (ts, id) > ($1, $2) AND action LIKE 'SECURITY\_%'
		ORDER BY ts, id
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, cursor.Since, cursor.AfterID, limit)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) CountByActionSince(ctx context.Context, since time.Time) (map[string]int, error) {
	query := `
		SELECT action, COUNT(*)
		FROM security_events
		WHERE ts >= $1 AND action LIKE 'SECURITY\_%'
		GROUP BY action
	`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("count security events: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		totals[action] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event counts: %w", err)
	}
	return totals, nil
}

func (s *PostgresStore) LatestByActionResource(ctx context.Context, action, resource string) (*Event, error) {
	query := `
		SELECT id, ts, actor, actor_role, action, resource, details, ip, user_agent, success
		FROM security_events
		WHERE action = $1 AND resource = $2
		ORDER BY ts DESC, id DESC
		LIMIT 1
	`
	event, err := scanEvent(s.db.QueryRowContext(ctx, query, action, resource))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("event %s/%s: %w", action, resource, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("query latest event: %w", err)
	}
	return event, nil
}

func (s *PostgresStore) AgeStats(ctx context.Context, cutoff time.Time, excludeActions []string) (AgeStats, error) {
	query := `
		SELECT COUNT(*), MIN(ts), MAX(ts)
		FROM security_events
		WHERE ts < $1 AND action LIKE 'SECURITY\_%' AND action <> ALL($2)
	`
	var stats AgeStats
	var oldest, newest sql.NullTime
	err := s.db.QueryRowContext(ctx, query, cutoff, pq.Array(excludeActions)).
		Scan(&stats.Count, &oldest, &newest)
	if err != nil {
		return AgeStats{}, fmt.Errorf("age stats: %w", err)
	}
	if oldest.Valid {
		stats.Oldest = &oldest.Time
	}
	if newest.Valid {
		stats.Newest = &newest.Time
	}
	return stats, nil
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, excludeActions []string) (int64, error) {
	query := `
		DELETE FROM security_events
		WHERE ts < $1 AND action LIKE 'SECURITY\_%' AND action <> ALL($2)
	`
	res, err := s.db.ExecContext(ctx, query, cutoff, pq.Array(excludeActions))
	if err != nil {
		return 0, fmt.Errorf("delete aged events: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted events: %w", err)
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var details []byte
	err := row.Scan(
		&e.ID,
		&e.Timestamp,
		&e.Actor,
		&e.ActorRole,
		&e.Action,
		&e.Resource,
		&details,
		&e.IP,
		&e.UserAgent,
		&e.Success,
	)
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("unmarshal event details: %w", err)
		}
	}
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security events: %w", err)
	}
	return events, nil
}
