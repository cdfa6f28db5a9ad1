package watch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// WinnersSource streams remaining-winner counts of live puzzles.
type WinnersSource interface {
	SubscribeRemainingWinners(ctx context.Context, fn func([]domain.PuzzleStatus), logger *slog.Logger) error
}

// WinnersEvent is published on domain.ChannelRemainingWinners.
type WinnersEvent struct {
	Puzzles []domain.PuzzleStatus `json:"puzzles"`
}

// RemainingWinners republishes every remaining-winners snapshot.
type RemainingWinners struct {
	handle

	source WinnersSource
	bus    domain.SignalBus

	mu     sync.RWMutex
	latest []domain.PuzzleStatus
}

// NewRemainingWinners creates the watcher.
func NewRemainingWinners(source WinnersSource, bus domain.SignalBus, logger *slog.Logger) *RemainingWinners {
	return &RemainingWinners{
		handle: handle{logger: logger.With(slog.String("component", "winners_watcher"))},
		source: source,
		bus:    bus,
	}
}

// Start opens the subscription. It returns ErrRunning if already started.
func (w *RemainingWinners) Start(ctx context.Context) error {
	return w.start(ctx, "remaining_winners", func(ctx context.Context) error {
		return w.source.SubscribeRemainingWinners(ctx, func(puzzles []domain.PuzzleStatus) {
			w.observe(ctx, puzzles)
		}, w.logger)
	})
}

// Stop closes the subscription and clears the last snapshot.
func (w *RemainingWinners) Stop() {
	w.stop()
	w.mu.Lock()
	w.latest = nil
	w.mu.Unlock()
}

// Latest returns the most recent snapshot, never nil.
func (w *RemainingWinners) Latest() []domain.PuzzleStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]domain.PuzzleStatus, len(w.latest))
	copy(out, w.latest)
	return out
}

func (w *RemainingWinners) observe(ctx context.Context, puzzles []domain.PuzzleStatus) {
	if puzzles == nil {
		puzzles = []domain.PuzzleStatus{}
	}
	w.mu.Lock()
	w.latest = puzzles
	w.mu.Unlock()
	publish(ctx, w.bus, domain.ChannelRemainingWinners, WinnersEvent{Puzzles: puzzles}, w.logger)
}
