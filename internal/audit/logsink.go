package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// LogSink writes events to the structured log instead of a database. Meant
// for development; the trail lives only as long as the log does.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Append(_ context.Context, ev *Event) error {
	s.logger.Info("audit.event",
		"event_id", ev.ID.String(),
		"timestamp_utc", ev.TimestampUTC.Format(time.RFC3339Nano),
		"hashed_user_id", ev.HashedUserID,
		"template_version", ev.TemplateVersion,
		"overall_confidence", ev.OverallConfidence,
		"field_count", ev.FieldCount,
		"remote_used", ev.RemoteUsed,
		"success", ev.Success,
	)
	return nil
}

func (s *LogSink) List(context.Context, time.Time, time.Time) ([]Event, error) {
	return nil, fmt.Errorf("log sink keeps no history: %w", errors.ErrUnsupported)
}

func (s *LogSink) Close() error { return nil }
