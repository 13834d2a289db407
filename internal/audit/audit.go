// Package audit records one append-only event per extraction attempt. The
// operator identifier is one-way hashed before it reaches any sink; raw
// patient or staff identifiers must never be stored or logged here.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event is the stored audit record.
type Event struct {
	ID                uuid.UUID `json:"id"`
	TimestampUTC      time.Time `json:"timestamp_utc"`
	HashedUserID      string    `json:"hashed_user_id"`
	TemplateVersion   string    `json:"template_version"`
	OverallConfidence float64   `json:"overall_confidence"`
	FieldCount        int       `json:"field_count"`
	RemoteUsed        bool      `json:"remote_used"`
	Success           bool      `json:"success"`
}

// Sink is an append-only event store. Append must be safe for concurrent
// use; events are never updated or deleted.
type Sink interface {
	Append(ctx context.Context, ev *Event) error
	List(ctx context.Context, from, to time.Time) ([]Event, error)
	Close() error
}

// HashUserID one-way hashes an operator identifier for storage.
func HashUserID(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Entry carries what one extraction attempt contributes to the trail.
// UserIdentifier is raw here and hashed before it leaves this package.
type Entry struct {
	UserIdentifier    string
	TemplateVersion   string
	OverallConfidence float64
	FieldCount        int
	RemoteUsed        bool
	Success           bool
}

// Logger turns entries into stored events.
type Logger struct {
	sink   Sink
	logger *slog.Logger
}

func NewLogger(sink Sink, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{sink: sink, logger: logger}
}

// LogExtraction appends one event. An append failure is returned for the
// caller to report, but extraction responses must not be withheld over it.
func (l *Logger) LogExtraction(ctx context.Context, e Entry) (*Event, error) {
	ev := &Event{
		ID:                uuid.New(),
		TimestampUTC:      time.Now().UTC(),
		HashedUserID:      HashUserID(e.UserIdentifier),
		TemplateVersion:   e.TemplateVersion,
		OverallConfidence: e.OverallConfidence,
		FieldCount:        e.FieldCount,
		RemoteUsed:        e.RemoteUsed,
		Success:           e.Success,
	}
	if err := l.sink.Append(ctx, ev); err != nil {
		l.logger.Error("audit.append.failed", "error", err)
		return nil, err
	}
	l.logger.Info("audit.append.ok",
		"event_id", ev.ID.String(),
		"template_version", ev.TemplateVersion,
		"overall_confidence", ev.OverallConfidence,
		"field_count", ev.FieldCount,
		"remote_used", ev.RemoteUsed,
		"success", ev.Success,
	)
	return ev, nil
}
