// Package cards persists accepted flashcards per user.
package cards

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Card content origins. Editing an ai-full card demotes it to ai-edited
// so acceptance quality can be measured later.
const (
	SourceAIFull   = "ai-full"
	SourceAIEdited = "ai-edited"
	SourceManual   = "manual"
)

// ValidSource reports whether s is one of the accepted origins.
func ValidSource(s string) bool {
	return s == SourceAIFull || s == SourceAIEdited || s == SourceManual
}

// ErrNotFound is returned when a card does not exist for the given user.
var ErrNotFound = errors.New("card not found")

// Card is a persisted flashcard. IDs and timestamps are assigned by the
// caller before Insert; stores persist them as given.
type Card struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Front        string    `json:"front"`
	Back         string    `json:"back"`
	Source       string    `json:"source"`
	GenerationID string    `json:"generation_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is the persistence interface used by the handlers.
// Implemented by the memory store (dev) and the Redis store (prod).
// Every lookup is scoped to a user; no operation can see or touch
// another user's cards.
type Store interface {
	Insert(ctx context.Context, batch []Card) error
	// List returns one page of the user's cards, newest first, plus the
	// total number of cards the user has.
	List(ctx context.Context, userID string, page, pageSize int) ([]Card, int, error)
	Get(ctx context.Context, userID, cardID string) (Card, error)
	// Update replaces front and back. An ai-full card becomes ai-edited.
	Update(ctx context.Context, userID, cardID, front, back string) (Card, error)
	Delete(ctx context.Context, userID, cardID string) error
}

// sortNewestFirst orders cards for listing: newest CreatedAt first, ID
// as the tiebreak so pages are stable across calls.
func sortNewestFirst(items []Card) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
}

// paginate slices one page out of the sorted card list. Pages are
// 1-based; out-of-range pages yield an empty slice, not an error.
func paginate(items []Card, page, pageSize int) []Card {
	if page < 1 || pageSize < 1 {
		return nil
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return nil
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
