package analytics

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// eventStream is the Redis stream analytics events are appended to.
	eventStream = "analytics:events"

	// streamMaxLen caps the stream so an idle consumer cannot grow it
	// without bound. Trimming is approximate (XADD MAXLEN ~).
	streamMaxLen = 100_000
)

// RedisSink appends events to a capped Redis stream for downstream
// consumers to pick up.
type RedisSink struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisSink(client *redis.Client, logger *zap.Logger) *RedisSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{
		client: client,
		logger: logger.Named("analytics"),
	}
}

func (s *RedisSink) Track(ctx context.Context, event Event) {
	event = withDefaults(event)

	values := map[string]any{
		"id":         event.ID,
		"user_id":    event.UserID,
		"type":       event.Type,
		"source":     event.Source,
		"created_at": event.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if len(event.Properties) > 0 {
		props, err := json.Marshal(event.Properties)
		if err != nil {
			s.logger.Warn("dropping unencodable event properties",
				zap.String("event_id", event.ID),
				zap.Error(err))
		} else {
			values["properties"] = string(props)
		}
	}

	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: eventStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		s.logger.Error("failed to append event to stream",
			zap.String("event_id", event.ID),
			zap.String("type", event.Type),
			zap.Error(err))
	}
}

func (s *RedisSink) Close() error { return nil }
