package cards

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore keeps cards in process memory. Used in dev and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]map[string]Card // userID -> cardID -> card
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]map[string]Card),
	}
}

func (s *MemoryStore) Insert(_ context.Context, batch []Card) error {
	for _, card := range batch {
		if card.ID == "" || card.UserID == "" {
			return errors.New("card needs an id and a user id")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, card := range batch {
		user, ok := s.items[card.UserID]
		if !ok {
			user = make(map[string]Card)
			s.items[card.UserID] = user
		}
		user[card.ID] = card
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, userID string, page, pageSize int) ([]Card, int, error) {
	s.mu.RLock()
	user := s.items[userID]
	all := make([]Card, 0, len(user))
	for _, card := range user {
		all = append(all, card)
	}
	s.mu.RUnlock()

	sortNewestFirst(all)
	return paginate(all, page, pageSize), len(all), nil
}

func (s *MemoryStore) Get(_ context.Context, userID, cardID string) (Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.items[userID][cardID]
	if !ok {
		return Card{}, ErrNotFound
	}
	return card, nil
}

func (s *MemoryStore) Update(_ context.Context, userID, cardID, front, back string) (Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.items[userID][cardID]
	if !ok {
		return Card{}, ErrNotFound
	}

	card.Front = front
	card.Back = back
	if card.Source == SourceAIFull {
		card.Source = SourceAIEdited
	}
	card.UpdatedAt = time.Now().UTC()

	s.items[userID][cardID] = card
	return card, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[userID][cardID]; !ok {
		return ErrNotFound
	}
	delete(s.items[userID], cardID)
	return nil
}

// Len reports the total number of stored cards across all users.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, user := range s.items {
		n += len(user)
	}
	return n
}
