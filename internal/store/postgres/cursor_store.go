package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// CursorStore implements domain.CursorStore on the poller_cursors table.
type CursorStore struct {
	pool *pgxpool.Pool
}

// NewCursorStore creates a CursorStore backed by pool.
func NewCursorStore(pool *pgxpool.Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// Load returns the saved cursor for name, or domain.ErrNotFound.
func (s *CursorStore) Load(ctx context.Context, name string) (domain.Timestamp, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `SELECT cursor FROM poller_cursors WHERE name = $1`, name).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("postgres: cursor %s: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("postgres: load cursor %s: %w", name, err)
	}
	ts, err := domain.ParseTimestamp(raw, "")
	if err != nil {
		return "", fmt.Errorf("postgres: stored cursor %s: %w", name, err)
	}
	return ts, nil
}

// Save upserts the cursor for name.
func (s *CursorStore) Save(ctx context.Context, name string, ts domain.Timestamp) error {
	if !ts.Valid() {
		return fmt.Errorf("postgres: save cursor %s: %w: %q", name, domain.ErrInvalidCursor, ts)
	}
	const query = `
		INSERT INTO poller_cursors (name, cursor, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, name, string(ts)); err != nil {
		return fmt.Errorf("postgres: save cursor %s: %w", name, err)
	}
	return nil
}
