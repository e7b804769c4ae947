package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/piotroramus/10x-cards-sub000/internal/metrics"
)

const (
	defaultQueueSize  = 256
	deliverTimeout    = 5 * time.Second
	closeDrainTimeout = 10 * time.Second
)

// Dispatcher decouples request handling from event delivery. Track
// enqueues and returns immediately; a single worker goroutine forwards
// events to the wrapped sink. When the queue is full the event is
// dropped and counted rather than blocking the caller.
type Dispatcher struct {
	sink   Sink
	logger *zap.Logger

	queue chan Event

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(sink Sink, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		sink:   sink,
		logger: logger.Named("analytics"),
		queue:  make(chan Event, defaultQueueSize),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Track(_ context.Context, event Event) {
	event = withDefaults(event)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		metrics.AnalyticsDroppedTotal.Inc()
		return
	}
	select {
	case d.queue <- event:
		d.mu.Unlock()
	default:
		d.mu.Unlock()
		metrics.AnalyticsDroppedTotal.Inc()
		d.logger.Warn("event queue full, dropping event",
			zap.String("type", event.Type),
			zap.String("user_id", event.UserID))
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		d.sink.Track(ctx, event)
		cancel()
	}
}

// Close stops accepting events, waits for the queue to drain, then
// closes the wrapped sink.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-time.After(closeDrainTimeout):
		d.logger.Warn("timed out draining event queue")
	}
	return d.sink.Close()
}
