// Package pipeline mirrors piece ownership from the subgraph into the
// metadata store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/puzzlr/internal/domain"
	"github.com/alanyoungcy/puzzlr/internal/metrics"
	"github.com/alanyoungcy/puzzlr/internal/notify"
)

// nullAddress is the burn destination; burned pieces are not mirrored.
const nullAddress = "0x0000000000000000000000000000000000000000"

// TransferSource fetches piece transfers after a cursor, oldest first.
type TransferSource interface {
	FetchTransfers(ctx context.Context, after domain.Timestamp, first int) ([]domain.Transfer, error)
}

// CIDResolver reads the piece CID of a token from the piece factory.
type CIDResolver interface {
	TokenCID(ctx context.Context, factory common.Address, tokenID *big.Int) (string, error)
}

// TokenWriter upserts mirrored tokens.
type TokenWriter interface {
	UpsertTokens(ctx context.Context, tokens []domain.Token) (int, error)
}

// BatchArchiver stores a copy of each processed batch.
type BatchArchiver interface {
	Archive(ctx context.Context, cursor domain.Timestamp, transfers []domain.Transfer) (string, error)
}

// PollerConfig configures a TransferPoller.
type PollerConfig struct {
	CursorName   string
	ActiveGroup  int
	PieceFactory common.Address
	BatchSize    int
	Interval     time.Duration
	// Resolvers bounds concurrent tokenURIWithoutPrefix calls.
	Resolvers int
}

// PollResult summarises one poll.
type PollResult struct {
	Fetched  int              `json:"fetched"`
	Upserted int              `json:"upserted"`
	Skipped  int              `json:"skipped"`
	Cursor   domain.Timestamp `json:"cursor"`
	Archive  string           `json:"archive,omitempty"`
}

// PollerOption configures optional TransferPoller collaborators.
type PollerOption func(*TransferPoller)

// WithLocks guards each poll with a distributed lock so that concurrent
// pollers cannot process the same batch.
func WithLocks(locks domain.LockManager) PollerOption {
	return func(p *TransferPoller) { p.locks = locks }
}

// WithArchiver archives every processed batch.
func WithArchiver(a BatchArchiver) PollerOption {
	return func(p *TransferPoller) { p.archiver = a }
}

// WithMetrics records poll outcomes and the cursor block.
func WithMetrics(m *metrics.Metrics) PollerOption {
	return func(p *TransferPoller) { p.metrics = m }
}

// Alerter notifies operators.
type Alerter interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// WithAlerts notifies a once a run of failed polls reaches alertAfter.
func WithAlerts(a Alerter) PollerOption {
	return func(p *TransferPoller) { p.alerts = a }
}

// alertAfter is the number of consecutive failed polls that raises an alert.
const alertAfter = 3

// TransferPoller advances a persisted cursor through the subgraph's piece
// transfers and upserts the new owner of each piece.
type TransferPoller struct {
	cfg       PollerConfig
	transfers TransferSource
	resolver  CIDResolver
	tokens    TokenWriter
	cursors   domain.CursorStore
	locks     domain.LockManager
	archiver  BatchArchiver
	metrics   *metrics.Metrics
	alerts    Alerter
	logger    *slog.Logger

	// failures counts consecutive failed polls in RunLoop.
	failures int

	// mu serialises polls within the process; the lock covers replicas.
	mu sync.Mutex
}

// NewTransferPoller creates a TransferPoller.
func NewTransferPoller(
	cfg PollerConfig,
	transfers TransferSource,
	resolver CIDResolver,
	tokens TokenWriter,
	cursors domain.CursorStore,
	logger *slog.Logger,
	opts ...PollerOption,
) *TransferPoller {
	if cfg.CursorName == "" {
		cfg.CursorName = "transfers"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = domain.TransfersLimit
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Resolvers <= 0 {
		cfg.Resolvers = 8
	}
	p := &TransferPoller{
		cfg:       cfg,
		transfers: transfers,
		resolver:  resolver,
		tokens:    tokens,
		cursors:   cursors,
		logger:    logger.With(slog.String("component", "transfer_poller")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Cursor returns the persisted cursor, MinTimestamp when none is saved.
func (p *TransferPoller) Cursor(ctx context.Context) (domain.Timestamp, error) {
	ts, err := p.cursors.Load(ctx, p.cfg.CursorName)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.MinTimestamp, nil
	}
	if err != nil {
		return "", fmt.Errorf("pipeline: load cursor: %w", err)
	}
	return ts, nil
}

// ResetCursor overwrites the persisted cursor. The next poll resumes after
// ts.
func (p *TransferPoller) ResetCursor(ctx context.Context, ts domain.Timestamp) error {
	if !ts.Valid() {
		return fmt.Errorf("pipeline: reset cursor: %w: %q", domain.ErrInvalidCursor, ts)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.cursors.Save(ctx, p.cfg.CursorName, ts); err != nil {
		return fmt.Errorf("pipeline: reset cursor: %w", err)
	}
	p.logger.Info("cursor reset", slog.String("cursor", string(ts)))
	return nil
}

// Run processes one batch of transfers. domain.ErrLockHeld is returned
// when another poller holds the lock.
func (p *TransferPoller) Run(ctx context.Context) (PollResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.locks != nil {
		ttl := 2 * p.cfg.Interval
		if ttl < 30*time.Second {
			ttl = 30 * time.Second
		}
		unlock, err := p.locks.Acquire(ctx, "poller:"+p.cfg.CursorName, ttl)
		if err != nil {
			return PollResult{}, fmt.Errorf("pipeline: poller lock: %w", err)
		}
		defer unlock()
	}

	res, err := p.run(ctx)
	if err != nil {
		p.metrics.ObservePoll("error", res.Fetched)
		return res, err
	}
	p.metrics.ObservePoll("upserted", res.Upserted)
	p.metrics.ObservePoll("skipped", res.Skipped)
	p.metrics.SetCursorBlock(res.Cursor.Block())
	return res, nil
}

func (p *TransferPoller) run(ctx context.Context) (PollResult, error) {
	cursor, err := p.Cursor(ctx)
	if err != nil {
		return PollResult{}, err
	}
	res := PollResult{Cursor: cursor}

	transfers, err := p.transfers.FetchTransfers(ctx, cursor, p.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("pipeline: fetch transfers after %s: %w", cursor, err)
	}
	res.Fetched = len(transfers)
	if len(transfers) == 0 {
		p.logger.Debug("no new transfers", slog.String("cursor", string(cursor)))
		return res, nil
	}

	cids := p.resolveCIDs(ctx, transfers)
	tokens := buildTokens(transfers, cids, p.cfg.ActiveGroup)
	res.Skipped = len(transfers) - len(tokens)

	if len(tokens) > 0 {
		n, err := p.tokens.UpsertTokens(ctx, tokens)
		if err != nil {
			// The cursor stays put so the next poll retries the batch;
			// upserts are keyed on the token id.
			return res, fmt.Errorf("pipeline: upsert %d tokens after %s: %w", len(tokens), cursor, err)
		}
		res.Upserted = n
	}

	next := transfers[len(transfers)-1].Timestamp
	if p.archiver != nil {
		path, err := p.archiver.Archive(ctx, next, transfers)
		if err != nil {
			p.logger.Warn("archive batch failed",
				slog.String("cursor", string(next)),
				slog.String("error", err.Error()),
			)
		}
		res.Archive = path
	}

	if err := p.cursors.Save(ctx, p.cfg.CursorName, next); err != nil {
		return res, fmt.Errorf("pipeline: save cursor: %w", err)
	}
	res.Cursor = next

	p.logger.Info("transfers mirrored",
		slog.Int("fetched", res.Fetched),
		slog.Int("upserted", res.Upserted),
		slog.Int("skipped", res.Skipped),
		slog.String("cursor", string(next)),
	)
	return res, nil
}

// resolveCIDs looks up the CID of every non-burn transfer. Tokens whose
// lookup fails are absent from the result.
func (p *TransferPoller) resolveCIDs(ctx context.Context, transfers []domain.Transfer) map[string]string {
	var (
		mu   sync.Mutex
		cids = make(map[string]string, len(transfers))
		seen = make(map[string]bool, len(transfers))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Resolvers)
	for _, t := range transfers {
		if strings.EqualFold(t.To, nullAddress) || seen[t.TokenID] {
			continue
		}
		seen[t.TokenID] = true
		tokenID := t.TokenID
		g.Go(func() error {
			id, ok := new(big.Int).SetString(tokenID, 10)
			if !ok {
				p.logger.Warn("unparseable token id", slog.String("token_id", tokenID))
				return nil
			}
			cid, err := p.resolver.TokenCID(gctx, p.cfg.PieceFactory, id)
			if err != nil {
				p.logger.Debug("token cid lookup failed",
					slog.String("token_id", tokenID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			cids[tokenID] = cid
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return cids
}

// buildTokens turns transfers into store rows. A piece moved twice in one
// batch keeps only its latest owner.
func buildTokens(transfers []domain.Transfer, cids map[string]string, group int) []domain.Token {
	index := make(map[string]int, len(transfers))
	var tokens []domain.Token
	for _, t := range transfers {
		if strings.EqualFold(t.To, nullAddress) {
			continue
		}
		cid, ok := cids[t.TokenID]
		if !ok {
			continue
		}
		tok := domain.Token{
			TokenID:   domain.StoreTokenID(group, t.TokenID),
			Owner:     strings.ToLower(t.To),
			CID:       cid,
			Timestamp: string(t.Timestamp),
			Type:      t.Type,
		}
		if i, ok := index[tok.TokenID]; ok {
			tokens[i] = tok
			continue
		}
		index[tok.TokenID] = len(tokens)
		tokens = append(tokens, tok)
	}
	return tokens
}

// RunLoop polls immediately and then every interval until ctx is done.
func (p *TransferPoller) RunLoop(ctx context.Context) error {
	p.poll(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("transfer poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *TransferPoller) poll(ctx context.Context) {
	res, err := p.Run(ctx)
	switch {
	case err == nil:
		p.failures = 0
	case errors.Is(err, domain.ErrLockHeld):
		p.logger.Debug("another poller holds the lock")
	case ctx.Err() != nil:
	default:
		p.failures++
		p.logger.Error("poll failed",
			slog.String("cursor", string(res.Cursor)),
			slog.Int("consecutive", p.failures),
			slog.String("error", err.Error()),
		)
		if p.failures == alertAfter {
			p.alert(ctx, res.Cursor, err)
		}
	}
}

func (p *TransferPoller) alert(ctx context.Context, cursor domain.Timestamp, cause error) {
	if p.alerts == nil {
		return
	}
	msg := notify.Message{
		Event: notify.EventPollerError,
		Title: fmt.Sprintf("Transfer poller %s failing", p.cfg.CursorName),
		Body:  fmt.Sprintf("%d consecutive polls failed at cursor %s: %v", p.failures, cursor, cause),
	}
	if err := p.alerts.Notify(ctx, msg); err != nil {
		p.logger.Warn("poller alert failed", slog.String("error", err.Error()))
	}
}
