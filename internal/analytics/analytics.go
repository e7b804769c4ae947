// Package analytics records product events emitted by the application.
// Sinks are fire-and-forget: recording an event must never fail a user
// request, so Track reports nothing and implementations log their own
// delivery problems.
package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the application.
const (
	TypeFlashcardsGenerated = "flashcards_generated"
	TypeFlashcardsSaved     = "flashcards_saved"
)

// Event is a single analytics record.
type Event struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Type       string         `json:"type"`
	Source     string         `json:"source,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Sink accepts events for delivery.
type Sink interface {
	Track(ctx context.Context, event Event)
	Close() error
}

// withDefaults fills the fields callers usually leave for the sink.
func withDefaults(event Event) Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return event
}
