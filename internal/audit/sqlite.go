package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Fixed-width nanoseconds so stored strings sort chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_event (
	id                 TEXT PRIMARY KEY,
	timestamp_utc      TEXT NOT NULL,
	hashed_user_id     TEXT NOT NULL,
	template_version   TEXT NOT NULL,
	overall_confidence REAL NOT NULL,
	field_count        INTEGER NOT NULL,
	remote_used        INTEGER NOT NULL,
	success            INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_event_timestamp ON audit_event (timestamp_utc);`

// SQLiteSink stores events in a single-file database, the default for a
// practice running the service on one machine.
type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(ctx context.Context, dsn string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// sqlite serializes writers; a single connection avoids lock thrash.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Append(ctx context.Context, ev *Event) error {
	const q = `INSERT INTO audit_event
		(id, timestamp_utc, hashed_user_id, template_version, overall_confidence, field_count, remote_used, success)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		ev.ID.String(),
		ev.TimestampUTC.UTC().Format(sqliteTimeLayout),
		ev.HashedUserID,
		ev.TemplateVersion,
		ev.OverallConfidence,
		ev.FieldCount,
		ev.RemoteUsed,
		ev.Success,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *SQLiteSink) List(ctx context.Context, from, to time.Time) ([]Event, error) {
	const q = `SELECT id, timestamp_utc, hashed_user_id, template_version, overall_confidence, field_count, remote_used, success
		FROM audit_event
		WHERE timestamp_utc >= ? AND timestamp_utc < ?
		ORDER BY timestamp_utc`
	rows, err := s.db.QueryContext(ctx, q,
		from.UTC().Format(sqliteTimeLayout),
		to.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev     Event
			id, ts string
		)
		if err := rows.Scan(&id, &ts, &ev.HashedUserID, &ev.TemplateVersion,
			&ev.OverallConfidence, &ev.FieldCount, &ev.RemoteUsed, &ev.Success); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("audit event id: %w", err)
		}
		ev.TimestampUTC, err = time.Parse(sqliteTimeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("audit event timestamp: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
