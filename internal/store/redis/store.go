package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store is the remote store boundary: owner-scoped bookmark rows, a change
// feed per owner, and session records. Every bookmark operation takes the
// owner ID explicitly and never returns or mutates another owner's rows.
type Store struct {
	client *redis.Client
}

// NewStore creates a new Redis store
func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
	}
}

// Client exposes the underlying client for Pub/Sub subscribers.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Ping checks that Redis answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}
