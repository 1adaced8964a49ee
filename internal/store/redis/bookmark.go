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

// Insert stores a bookmark, indexes it under its owner and announces the
// insert on the owner's feed channel, all in one transaction.
func (s *Store) Insert(ctx context.Context, bookmark *domain.Bookmark) error {
	if bookmark.OwnerID == "" {
		return fmt.Errorf("bookmark %s has no owner", bookmark.ID)
	}

	data, err := json.Marshal(bookmark)
	if err != nil {
		return fmt.Errorf("failed to marshal bookmark: %w", err)
	}

	event, err := encodeEvent(domain.ChangeInsert, bookmark.ID, bookmark.OwnerID)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, BookmarkKey(bookmark.ID), data, 0)
		pipe.ZAdd(ctx, OwnerBookmarksKey(bookmark.OwnerID), redis.Z{
			Score:  float64(bookmark.CreatedAt.UnixMilli()),
			Member: bookmark.ID,
		})
		pipe.Publish(ctx, FeedChannel(bookmark.OwnerID), event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save bookmark: %w", err)
	}

	return nil
}

// Select returns every bookmark owned by ownerID, newest first.
// Index entries whose record has vanished are skipped.
func (s *Store) Select(ctx context.Context, ownerID string) ([]domain.Bookmark, error) {
	ids, err := s.client.ZRevRange(ctx, OwnerBookmarksKey(ownerID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmark IDs: %w", err)
	}

	if len(ids) == 0 {
		return []domain.Bookmark{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = BookmarkKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmarks: %w", err)
	}

	bookmarks := make([]domain.Bookmark, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}

		var bookmark domain.Bookmark
		if err := json.Unmarshal([]byte(raw), &bookmark); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bookmark: %w", err)
		}
		if bookmark.OwnerID != ownerID {
			continue
		}
		bookmarks = append(bookmarks, bookmark)
	}

	return bookmarks, nil
}

// Delete removes the bookmark id if it belongs to ownerID and announces the
// deletion. A missing record or one owned by someone else is a no-op and
// reports false.
func (s *Store) Delete(ctx context.Context, ownerID, id string) (bool, error) {
	key := BookmarkKey(id)
	removed := false

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		var bookmark domain.Bookmark
		if err := json.Unmarshal(data, &bookmark); err != nil {
			return fmt.Errorf("failed to unmarshal bookmark: %w", err)
		}
		if bookmark.OwnerID != ownerID {
			return nil
		}

		event, err := encodeEvent(domain.ChangeDelete, id, ownerID)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, OwnerBookmarksKey(ownerID), id)
			pipe.Publish(ctx, FeedChannel(ownerID), event)
			return nil
		})
		if err != nil {
			return err
		}
		removed = true
		return nil
	}, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete bookmark: %w", err)
	}

	return removed, nil
}

func encodeEvent(kind domain.ChangeKind, id, ownerID string) ([]byte, error) {
	data, err := json.Marshal(domain.ChangeEvent{
		Kind:     kind,
		RecordID: id,
		OwnerID:  ownerID,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change event: %w", err)
	}
	return data, nil
}

// DecodeEvent parses a change event published on a feed channel.
func DecodeEvent(payload string) (domain.ChangeEvent, error) {
	var event domain.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("failed to unmarshal change event: %w", err)
	}
	return event, nil
}
