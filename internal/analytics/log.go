package analytics

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes events to the application log. It is the default
// backend and the fallback when no durable store is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("analytics")}
}

func (s *LogSink) Track(_ context.Context, event Event) {
	event = withDefaults(event)
	s.logger.Info("event tracked",
		zap.String("event_id", event.ID),
		zap.String("user_id", event.UserID),
		zap.String("type", event.Type),
		zap.String("source", event.Source),
		zap.Any("properties", event.Properties),
		zap.Time("created_at", event.CreatedAt),
	)
}

func (s *LogSink) Close() error { return nil }

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Track(context.Context, Event) {}

func (NopSink) Close() error { return nil }
