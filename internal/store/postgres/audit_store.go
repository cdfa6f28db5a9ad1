package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// LogDispatch records one submitted metatransaction. Replays of the same
// hash are ignored.
func (s *AuditStore) LogDispatch(ctx context.Context, rec domain.DispatchRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO dispatch_audit (tx_hash, game, action, caller, relayer, nonce, attempt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tx_hash) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		rec.TxHash, rec.Game, rec.Action, rec.Caller, rec.Relayer,
		int64(rec.Nonce), rec.Attempt, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: log dispatch %s: %w", rec.TxHash, err)
	}
	return nil
}

// Log appends a new audit entry with the given event name and detail map.
// The detail map is stored as JSONB in the database.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}

	const query = `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`
	_, err = s.pool.Exec(ctx, query, event, detailJSON)
	if err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// ListDispatches returns the most recent submissions made on behalf of
// caller, newest first.
func (s *AuditStore) ListDispatches(ctx context.Context, caller string, limit int) ([]domain.DispatchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT tx_hash, game, action, caller, relayer, nonce, attempt, created_at
		FROM dispatch_audit
		WHERE caller = lower($1)
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, caller, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list dispatches: %w", err)
	}
	defer rows.Close()

	var out []domain.DispatchRecord
	for rows.Next() {
		var (
			r     domain.DispatchRecord
			nonce int64
		)
		if err := rows.Scan(&r.TxHash, &r.Game, &r.Action, &r.Caller, &r.Relayer, &nonce, &r.Attempt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan dispatch: %w", err)
		}
		r.Nonce = uint64(nonce)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list dispatches rows: %w", err)
	}
	return out, nil
}
