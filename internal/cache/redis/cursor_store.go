package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// CursorStore implements domain.CursorStore with one string key per cursor.
type CursorStore struct {
	rdb *redis.Client
}

// NewCursorStore creates a CursorStore backed by c.
func NewCursorStore(c *Client) *CursorStore {
	return &CursorStore{rdb: c.Underlying()}
}

func cursorKey(name string) string {
	return "cursor:" + name
}

// Load returns the saved cursor for name, or domain.ErrNotFound.
func (s *CursorStore) Load(ctx context.Context, name string) (domain.Timestamp, error) {
	raw, err := s.rdb.Get(ctx, cursorKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("redis: cursor %s: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("redis: load cursor %s: %w", name, err)
	}
	ts, err := domain.ParseTimestamp(raw, "")
	if err != nil {
		return "", fmt.Errorf("redis: stored cursor %s: %w", name, err)
	}
	return ts, nil
}

// Save stores the cursor for name without expiry.
func (s *CursorStore) Save(ctx context.Context, name string, ts domain.Timestamp) error {
	if !ts.Valid() {
		return fmt.Errorf("redis: save cursor %s: %w: %q", name, domain.ErrInvalidCursor, ts)
	}
	if err := s.rdb.Set(ctx, cursorKey(name), string(ts), 0).Err(); err != nil {
		return fmt.Errorf("redis: save cursor %s: %w", name, err)
	}
	return nil
}

var _ domain.CursorStore = (*CursorStore)(nil)
