package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/puzzlr/internal/domain"
	"github.com/alanyoungcy/puzzlr/internal/notify"
)

type fakeSource struct {
	batches [][]domain.Transfer
	afters  []domain.Timestamp
	err     error
}

func (f *fakeSource) FetchTransfers(_ context.Context, after domain.Timestamp, _ int) ([]domain.Transfer, error) {
	f.afters = append(f.afters, after)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

type fakeResolver struct {
	cids    map[string]string
	mu      sync.Mutex
	factory common.Address
}

func (f *fakeResolver) TokenCID(_ context.Context, factory common.Address, id *big.Int) (string, error) {
	f.mu.Lock()
	f.factory = factory
	f.mu.Unlock()
	cid, ok := f.cids[id.String()]
	if !ok {
		return "", errors.New("execution reverted")
	}
	return cid, nil
}

type fakeWriter struct {
	got [][]domain.Token
	err error
}

func (f *fakeWriter) UpsertTokens(_ context.Context, tokens []domain.Token) (int, error) {
	f.got = append(f.got, tokens)
	if f.err != nil {
		return 0, f.err
	}
	return len(tokens), nil
}

type memCursors struct {
	m       map[string]domain.Timestamp
	saveErr error
}

func (c *memCursors) Load(_ context.Context, name string) (domain.Timestamp, error) {
	ts, ok := c.m[name]
	if !ok {
		return "", domain.ErrNotFound
	}
	return ts, nil
}

func (c *memCursors) Save(_ context.Context, name string, ts domain.Timestamp) error {
	if c.saveErr != nil {
		return c.saveErr
	}
	c.m[name] = ts
	return nil
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

type fakeArchiver struct {
	cursors []domain.Timestamp
}

func (f *fakeArchiver) Archive(_ context.Context, cursor domain.Timestamp, _ []domain.Transfer) (string, error) {
	f.cursors = append(f.cursors, cursor)
	return "transfers/" + string(cursor) + ".csv", nil
}

var factory = common.HexToAddress("0x00000000000000000000000000000000000000fa")

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func transfer(token, to string, block uint64) domain.Transfer {
	return domain.Transfer{
		ID:        token + "-" + to,
		To:        to,
		TokenID:   token,
		Type:      domain.TransferTypePiece,
		Timestamp: domain.NewTimestamp(block, 0),
	}
}

func newPoller(src *fakeSource, res *fakeResolver, w *fakeWriter, cur *memCursors, opts ...PollerOption) *TransferPoller {
	cfg := PollerConfig{CursorName: "transfers", ActiveGroup: 3, PieceFactory: factory, Interval: time.Millisecond}
	return NewTransferPoller(cfg, src, res, w, cur, discard(), opts...)
}

func TestRunMirrorsOwners(t *testing.T) {
	src := &fakeSource{batches: [][]domain.Transfer{{
		transfer("1", "0xABCDEF0000000000000000000000000000000001", 10),
		transfer("2", nullAddress, 11),
		transfer("3", "0x0000000000000000000000000000000000000003", 12),
		transfer("1", "0x0000000000000000000000000000000000000004", 13),
	}}}
	res := &fakeResolver{cids: map[string]string{"1": "cid-1", "2": "cid-2"}}
	w := &fakeWriter{}
	cur := &memCursors{m: map[string]domain.Timestamp{}}
	arch := &fakeArchiver{}

	p := newPoller(src, res, w, cur, WithArchiver(arch))
	out, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.Timestamp{domain.MinTimestamp}, src.afters)
	assert.Equal(t, factory, res.factory)
	require.Len(t, w.got, 1)
	// Burned and unresolvable pieces are skipped; piece 1 keeps its latest owner.
	assert.Equal(t, []domain.Token{{
		TokenID:   "3-1",
		Owner:     "0x0000000000000000000000000000000000000004",
		CID:       "cid-1",
		Timestamp: string(domain.NewTimestamp(13, 0)),
		Type:      domain.TransferTypePiece,
	}}, w.got[0])

	assert.Equal(t, 4, out.Fetched)
	assert.Equal(t, 1, out.Upserted)
	assert.Equal(t, 3, out.Skipped)
	assert.Equal(t, domain.NewTimestamp(13, 0), out.Cursor)
	assert.Equal(t, domain.NewTimestamp(13, 0), cur.m["transfers"])
	assert.Equal(t, []domain.Timestamp{domain.NewTimestamp(13, 0)}, arch.cursors)
}

func TestRunResumesFromSavedCursor(t *testing.T) {
	saved := domain.NewTimestamp(50, 2)
	src := &fakeSource{}
	cur := &memCursors{m: map[string]domain.Timestamp{"transfers": saved}}
	w := &fakeWriter{}

	p := newPoller(src, &fakeResolver{}, w, cur)
	out, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.Timestamp{saved}, src.afters)
	assert.Equal(t, saved, out.Cursor)
	assert.Empty(t, w.got)
}

func TestRunUpsertFailureKeepsCursorForRetry(t *testing.T) {
	batch := []domain.Transfer{transfer("7", "0x0000000000000000000000000000000000000007", 20)}
	src := &fakeSource{batches: [][]domain.Transfer{batch, batch}}
	cur := &memCursors{m: map[string]domain.Timestamp{}}
	w := &fakeWriter{err: errors.New("hasura down")}

	p := newPoller(src, &fakeResolver{cids: map[string]string{"7": "c7"}}, w, cur)
	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hasura down")
	_, saved := cur.m["transfers"]
	assert.False(t, saved)

	w.err = nil
	out, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Upserted)
	assert.Equal(t, []domain.Timestamp{domain.MinTimestamp, domain.MinTimestamp}, src.afters)
	assert.Equal(t, domain.NewTimestamp(20, 0), cur.m["transfers"])
}

func TestRunFetchErrorKeepsCursor(t *testing.T) {
	saved := domain.NewTimestamp(5, 0)
	cur := &memCursors{m: map[string]domain.Timestamp{"transfers": saved}}
	p := newPoller(&fakeSource{err: errors.New("boom")}, &fakeResolver{}, &fakeWriter{}, cur)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: fetch transfers")
	assert.Equal(t, saved, cur.m["transfers"])
}

func TestRunSaveErrorIsReturned(t *testing.T) {
	src := &fakeSource{batches: [][]domain.Transfer{{transfer("1", "0x0000000000000000000000000000000000000001", 1)}}}
	cur := &memCursors{m: map[string]domain.Timestamp{}, saveErr: errors.New("db gone")}
	p := newPoller(src, &fakeResolver{cids: map[string]string{"1": "c"}}, &fakeWriter{}, cur)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: save cursor")
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	src := &fakeSource{}
	p := newPoller(src, &fakeResolver{}, &fakeWriter{}, &memCursors{m: map[string]domain.Timestamp{}}, WithLocks(heldLock{}))

	_, err := p.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Empty(t, src.afters)
}

func TestCursorAndReset(t *testing.T) {
	cur := &memCursors{m: map[string]domain.Timestamp{}}
	p := newPoller(&fakeSource{}, &fakeResolver{}, &fakeWriter{}, cur)
	ctx := context.Background()

	ts, err := p.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.MinTimestamp, ts)

	require.NoError(t, p.ResetCursor(ctx, domain.NewTimestamp(9, 1)))
	ts, err = p.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.NewTimestamp(9, 1), ts)

	require.ErrorIs(t, p.ResetCursor(ctx, "nope"), domain.ErrInvalidCursor)
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	src := &fakeSource{}
	p := newPoller(src, &fakeResolver{}, &fakeWriter{}, &memCursors{m: map[string]domain.Timestamp{}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.RunLoop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEmpty(t, src.afters)
}

type countingAlerter struct {
	msgs []notify.Message
}

func (c *countingAlerter) Notify(_ context.Context, msg notify.Message) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

func TestPollAlertsOnceAfterConsecutiveFailures(t *testing.T) {
	src := &fakeSource{err: errors.New("subgraph down")}
	alerts := &countingAlerter{}
	p := newPoller(src, &fakeResolver{}, &fakeWriter{}, &memCursors{m: map[string]domain.Timestamp{}}, WithAlerts(alerts))
	ctx := context.Background()

	for range alertAfter - 1 {
		p.poll(ctx)
	}
	assert.Empty(t, alerts.msgs)

	p.poll(ctx)
	p.poll(ctx)
	require.Len(t, alerts.msgs, 1)
	assert.Equal(t, notify.EventPollerError, alerts.msgs[0].Event)
	assert.Contains(t, alerts.msgs[0].Body, "subgraph down")

	src.err = nil
	p.poll(ctx)
	assert.Zero(t, p.failures)
}
