package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS audit_event (
	id                 UUID PRIMARY KEY,
	timestamp_utc      TIMESTAMPTZ NOT NULL,
	hashed_user_id     TEXT NOT NULL,
	template_version   TEXT NOT NULL,
	overall_confidence DOUBLE PRECISION NOT NULL,
	field_count        INTEGER NOT NULL,
	remote_used        BOOLEAN NOT NULL,
	success            BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_event_timestamp ON audit_event (timestamp_utc);`

// PostgresSink stores events in a shared database for practices that
// centralize reporting.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse audit dsn: %w", err)
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "hadada-intake"

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect audit db: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure audit schema: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

func (p *PostgresSink) Append(ctx context.Context, ev *Event) error {
	const q = `INSERT INTO audit_event
		(id, timestamp_utc, hashed_user_id, template_version, overall_confidence, field_count, remote_used, success)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := p.pool.Exec(ctx, q,
		ev.ID,
		ev.TimestampUTC.UTC(),
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

func (p *PostgresSink) List(ctx context.Context, from, to time.Time) ([]Event, error) {
	const q = `SELECT id, timestamp_utc, hashed_user_id, template_version, overall_confidence, field_count, remote_used, success
		FROM audit_event
		WHERE timestamp_utc >= $1 AND timestamp_utc < $2
		ORDER BY timestamp_utc`
	rows, err := p.pool.Query(ctx, q, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.TimestampUTC, &ev.HashedUserID, &ev.TemplateVersion,
			&ev.OverallConfidence, &ev.FieldCount, &ev.RemoteUsed, &ev.Success); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.TimestampUTC = ev.TimestampUTC.UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (p *PostgresSink) Close() error {
	p.pool.Close()
	return nil
}
