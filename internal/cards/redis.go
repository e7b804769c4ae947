package cards

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis hash per user: field = card id,
// value = the card as JSON. Listing reads the whole hash and sorts in
// memory, which is fine at flashcard-collection sizes.
type RedisStore struct {
	client *redis.Client
	prefix string
}

type RedisConfig struct {
	Prefix string
}

func NewRedisStore(client *redis.Client, config RedisConfig) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: config.Prefix,
	}
}

// key builds the per-user hash key with the configured prefix.
func (s *RedisStore) key(userID string) string {
	if s.prefix == "" {
		return "cards:" + userID
	}
	return s.prefix + ":cards:" + userID
}

func (s *RedisStore) Insert(ctx context.Context, batch []Card) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	byUser := make(map[string][]any)
	for _, card := range batch {
		if card.ID == "" || card.UserID == "" {
			return fmt.Errorf("card needs an id and a user id")
		}
		encoded, err := json.Marshal(card)
		if err != nil {
			return fmt.Errorf("encode card %s: %w", card.ID, err)
		}
		byUser[card.UserID] = append(byUser[card.UserID], card.ID, encoded)
	}

	pipe := s.client.Pipeline()
	for userID, fields := range byUser {
		pipe.HSet(ctx, s.key(userID), fields...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis insert failed: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, userID string, page, pageSize int) ([]Card, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("context error: %w", err)
	}

	values, err := s.client.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis list failed: %w", err)
	}

	all := make([]Card, 0, len(values))
	for id, raw := range values {
		var card Card
		if err := json.Unmarshal([]byte(raw), &card); err != nil {
			return nil, 0, fmt.Errorf("decode card %s: %w", id, err)
		}
		all = append(all, card)
	}

	sortNewestFirst(all)
	return paginate(all, page, pageSize), len(all), nil
}

func (s *RedisStore) Get(ctx context.Context, userID, cardID string) (Card, error) {
	if err := ctx.Err(); err != nil {
		return Card{}, fmt.Errorf("context error: %w", err)
	}

	raw, err := s.client.HGet(ctx, s.key(userID), cardID).Result()
	if err == redis.Nil {
		return Card{}, ErrNotFound
	}
	if err != nil {
		return Card{}, fmt.Errorf("redis get failed: %w", err)
	}

	var card Card
	if err := json.Unmarshal([]byte(raw), &card); err != nil {
		return Card{}, fmt.Errorf("decode card %s: %w", cardID, err)
	}
	return card, nil
}

func (s *RedisStore) Update(ctx context.Context, userID, cardID, front, back string) (Card, error) {
	card, err := s.Get(ctx, userID, cardID)
	if err != nil {
		return Card{}, err
	}

	card.Front = front
	card.Back = back
	if card.Source == SourceAIFull {
		card.Source = SourceAIEdited
	}
	card.UpdatedAt = time.Now().UTC()

	encoded, err := json.Marshal(card)
	if err != nil {
		return Card{}, fmt.Errorf("encode card %s: %w", cardID, err)
	}
	if err := s.client.HSet(ctx, s.key(userID), cardID, encoded).Err(); err != nil {
		return Card{}, fmt.Errorf("redis update failed: %w", err)
	}
	return card, nil
}

func (s *RedisStore) Delete(ctx context.Context, userID, cardID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	removed, err := s.client.HDel(ctx, s.key(userID), cardID).Result()
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks if the Redis connection is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return s.client.Ping(ctx).Err()
}
