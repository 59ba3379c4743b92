// Package idempotency is a best-effort duplicate filter backed by redis.
// It short-circuits redeliveries cheaply; the authoritative replay guard
// is always the state check inside the database transaction.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// MessageKey identifies a kafka message by its coordinates.
func (s *Store) MessageKey(topic string, partition int, offset int64) string {
	return fmt.Sprintf("idem:msg:%s:%d:%d", topic, partition, offset)
}

// EventKey identifies a provider webhook delivery by its event id.
func (s *Store) EventKey(provider, eventID string) string {
	return fmt.Sprintf("idem:evt:%s:%s", provider, eventID)
}

// Seen marks the key and reports whether it was already marked. Suited
// to consumers whose handling is safe to attempt at most once per
// delivery; handlers that must not acknowledge before a durable
// decision use Exists then Mark instead.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Exists reports whether the key is already marked, without marking it.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Mark records the key once handling reached a durable decision.
func (s *Store) Mark(ctx context.Context, key string) error {
	return s.rdb.Set(ctx, key, "1", s.ttl).Err()
}
