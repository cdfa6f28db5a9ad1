package dispatch

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/puzzlr/internal/crypto"
	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// BouncerStore is the metadata-store view of the relayer hot wallets.
type BouncerStore interface {
	FetchActiveBouncer(ctx context.Context) (domain.Bouncer, int, error)
	RotateBouncer(ctx context.Context, activeID, count int) (int, error)
}

// Signer is the key a single dispatch is submitted with.
type Signer struct {
	Key       *ecdsa.PrivateKey
	Address   common.Address
	BouncerID int
}

const (
	bouncerLockKey = "relayer:bouncer"
	bouncerLockTTL = 10 * time.Second
	lockRetries    = 5
	lockRetryDelay = 100 * time.Millisecond
)

// Relayer hands out the key for the next dispatch. With bouncers enabled it
// takes the active bouncer and advances the ring so consecutive writes come
// from different wallets; otherwise, or when no bouncer is active, it uses
// the fallback key.
type Relayer struct {
	bouncers BouncerStore
	locks    domain.LockManager
	encKey   string
	fallback *ecdsa.PrivateKey
	logger   *slog.Logger

	mu      sync.Mutex
	senders map[common.Address]*sync.Mutex
}

// NewRelayer creates a Relayer. bouncers and locks may be nil; fallback may
// be nil when bouncers are always available.
func NewRelayer(bouncers BouncerStore, locks domain.LockManager, encKey string, fallback *ecdsa.PrivateKey, logger *slog.Logger) *Relayer {
	return &Relayer{
		bouncers: bouncers,
		locks:    locks,
		encKey:   encKey,
		fallback: fallback,
		logger:   logger.With(slog.String("component", "relayer")),
		senders:  make(map[common.Address]*sync.Mutex),
	}
}

// Next returns the signer for the next dispatch.
func (r *Relayer) Next(ctx context.Context) (Signer, error) {
	if r.bouncers == nil {
		return r.fallbackSigner()
	}

	unlock, err := r.lock(ctx)
	if err != nil {
		return Signer{}, err
	}
	defer unlock()

	b, count, err := r.bouncers.FetchActiveBouncer(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn("no active bouncer, using fallback key")
		return r.fallbackSigner()
	}
	if err != nil {
		return Signer{}, fmt.Errorf("dispatch: active bouncer: %w", err)
	}

	key, err := crypto.DecryptBouncerKey(b.PrivateKey, r.encKey)
	if err != nil {
		return Signer{}, fmt.Errorf("dispatch: bouncer %d: %w", b.ID, err)
	}

	if _, err := r.bouncers.RotateBouncer(ctx, b.ID, count); err != nil {
		// The current key is still usable; the ring just does not advance.
		r.logger.Warn("bouncer rotation failed",
			slog.Int("bouncer", b.ID),
			slog.String("error", err.Error()),
		)
	}

	return Signer{
		Key:       key,
		Address:   ethcrypto.PubkeyToAddress(key.PublicKey),
		BouncerID: b.ID,
	}, nil
}

func (r *Relayer) lock(ctx context.Context) (func(), error) {
	if r.locks == nil {
		return func() {}, nil
	}
	for i := 0; ; i++ {
		unlock, err := r.locks.Acquire(ctx, bouncerLockKey, bouncerLockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) || i >= lockRetries {
			return nil, fmt.Errorf("dispatch: bouncer lock: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}

func (r *Relayer) fallbackSigner() (Signer, error) {
	if r.fallback == nil {
		return Signer{}, errors.New("dispatch: no relayer key configured")
	}
	return Signer{
		Key:     r.fallback,
		Address: ethcrypto.PubkeyToAddress(r.fallback.PublicKey),
	}, nil
}

// hold serialises submissions from one address so that two dispatches do
// not read the same pending nonce.
func (r *Relayer) hold(addr common.Address) func() {
	r.mu.Lock()
	m, ok := r.senders[addr]
	if !ok {
		m = &sync.Mutex{}
		r.senders[addr] = m
	}
	r.mu.Unlock()

	m.Lock()
	return m.Unlock
}
