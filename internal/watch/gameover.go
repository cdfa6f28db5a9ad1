package watch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/puzzlr/internal/domain"
	"github.com/alanyoungcy/puzzlr/internal/notify"
)

// CompletedSource streams the completed puzzles of a group.
type CompletedSource interface {
	SubscribeCompletedPuzzles(ctx context.Context, groupID int, fn func([]domain.Puzzle), logger *slog.Logger) error
}

// Alerter notifies operators.
type Alerter interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// GameOverEvent is published on domain.ChannelGameOver.
type GameOverEvent struct {
	Game       string          `json:"game"`
	GroupID    int             `json:"groupId"`
	PuzzlesWon []domain.Puzzle `json:"puzzlesWon"`
	At         time.Time       `json:"at"`
}

// GameOver watches one puzzle group for completions. The first snapshot is
// the baseline; a later snapshot with more completed puzzles emits the
// puzzles missing from the baseline and becomes the new baseline.
type GameOver struct {
	handle

	source  CompletedSource
	game    string
	groupID int
	bus     domain.SignalBus
	alerter Alerter
	now     func() time.Time

	mu        sync.Mutex
	loaded    bool
	completed []domain.Puzzle
}

// NewGameOver creates a watcher for the active group of game. bus and
// alerter may be nil.
func NewGameOver(source CompletedSource, game domain.Game, bus domain.SignalBus, alerter Alerter, logger *slog.Logger) *GameOver {
	return &GameOver{
		handle:  handle{logger: logger.With(slog.String("component", "gameover_watcher"))},
		source:  source,
		game:    game.Path,
		groupID: game.ActivePuzzleGroup,
		bus:     bus,
		alerter: alerter,
		now:     time.Now,
	}
}

// Start opens the subscription. It returns ErrRunning if already started.
func (g *GameOver) Start(ctx context.Context) error {
	return g.start(ctx, "gameover", func(ctx context.Context) error {
		return g.source.SubscribeCompletedPuzzles(ctx, g.groupID, func(puzzles []domain.Puzzle) {
			g.observe(ctx, puzzles)
		}, g.logger)
	})
}

// Stop closes the subscription and forgets the baseline.
func (g *GameOver) Stop() {
	g.stop()
	g.mu.Lock()
	g.loaded = false
	g.completed = nil
	g.mu.Unlock()
}

// Completed returns the current baseline.
func (g *GameOver) Completed() []domain.Puzzle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.Puzzle(nil), g.completed...)
}

func (g *GameOver) observe(ctx context.Context, puzzles []domain.Puzzle) {
	won := g.diff(puzzles)
	if len(won) == 0 {
		return
	}
	ev := GameOverEvent{Game: g.game, GroupID: g.groupID, PuzzlesWon: won, At: g.now().UTC()}
	g.logger.Info("puzzles won",
		slog.Int("group_id", g.groupID),
		slog.Int("count", len(won)),
	)
	publish(ctx, g.bus, domain.ChannelGameOver, ev, g.logger)
	if g.alerter != nil {
		if err := g.alerter.Notify(ctx, notify.GameOverMessage(g.game, g.groupID, won)); err != nil {
			g.logger.Warn("game over alert failed", slog.String("error", err.Error()))
		}
	}
}

// diff updates the baseline and returns the newly completed puzzles.
func (g *GameOver) diff(puzzles []domain.Puzzle) []domain.Puzzle {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.loaded {
		g.loaded = true
		g.completed = puzzles
		return nil
	}
	if len(puzzles) <= len(g.completed) {
		return nil
	}
	known := make(map[int]bool, len(g.completed))
	for _, p := range g.completed {
		known[p.ID] = true
	}
	var won []domain.Puzzle
	for _, p := range puzzles {
		if !known[p.ID] {
			won = append(won, p)
		}
	}
	g.completed = puzzles
	return won
}

// publish marshals v onto channel. Failures are logged; subscribers miss
// one push and catch up on the next snapshot.
func publish(ctx context.Context, bus domain.SignalBus, channel string, v any, logger *slog.Logger) {
	if bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Error("marshal event failed", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	if err := bus.Publish(ctx, channel, payload); err != nil {
		logger.Warn("publish failed", slog.String("channel", channel), slog.String("error", err.Error()))
	}
}
