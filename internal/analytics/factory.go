package analytics

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// New creates the sink selected by backend. The returned sink is meant
// to be wrapped in a Dispatcher so delivery happens off the request path.
func New(backend string, redisClient *redis.Client, logger *zap.Logger) (Sink, error) {
	switch backend {
	case "", "log":
		return NewLogSink(logger), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("analytics backend %q requires a redis client", backend)
		}
		return NewRedisSink(redisClient, logger), nil
	case "none":
		return NopSink{}, nil
	default:
		return nil, fmt.Errorf("unknown analytics backend %q", backend)
	}
}
