package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
)

// SaveSession stores the identity behind an opaque session token.
func (s *Store) SaveSession(ctx context.Context, token string, identity *domain.Identity, ttl time.Duration) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Set(ctx, SessionKey(token), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession returns the identity for token, or nil when the session does
// not exist or has expired.
func (s *Store) GetSession(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, nil
	}

	data, err := s.client.Get(ctx, SessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var identity domain.Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &identity, nil
}

// DeleteSession removes the session record. Deleting a missing session is not an error.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, SessionKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// PublishSessionChange tells every live view sharing token that its identity
// is now identity. A nil identity means the session was signed out.
func (s *Store) PublishSessionChange(ctx context.Context, token string, identity *domain.Identity) error {
	data, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to marshal session change: %w", err)
	}

	if err := s.client.Publish(ctx, SessionChannel(token), data).Err(); err != nil {
		return fmt.Errorf("failed to publish session change: %w", err)
	}
	return nil
}

// WatchSession delivers identity changes published for token until stop is
// called. Messages still buffered when stop is called are dropped.
func (s *Store) WatchSession(ctx context.Context, token string, fn func(*domain.Identity)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	ps := s.client.Subscribe(ctx, SessionChannel(token))

	go func() {
		for msg := range ps.Channel() {
			var identity *domain.Identity
			if err := json.Unmarshal([]byte(msg.Payload), &identity); err != nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			fn(identity)
		}
	}()

	return func() {
		cancel()
		_ = ps.Close()
	}
}
