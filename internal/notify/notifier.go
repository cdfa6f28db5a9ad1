// Package notify alerts operators about game events over chat webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// Event types accepted by the notify.events filter.
const (
	EventGameOver       = "game_over"
	EventDispatchFailed = "dispatch_failed"
	EventPollerError    = "poller_error"
	EventStartup        = "startup"
)

// Message is one operator alert.
type Message struct {
	Event string
	Title string
	Body  string
}

// Sender delivers a message over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier fans a message out to every sender. Only events in the configured
// set are forwarded; an empty set forwards everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Notify delivers msg to all senders concurrently. A failing sender does not
// stop delivery to the others; their errors are joined.
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[msg.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", msg.Event))
		return nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range n.senders {
		wg.Add(1)
		go func(s Sender) {
			defer wg.Done()
			if err := s.Send(ctx, msg); err != nil {
				n.logger.ErrorContext(ctx, "sender failed",
					slog.String("sender", s.Name()),
					slog.String("event", msg.Event),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// GameOverMessage describes newly completed puzzles of a group.
func GameOverMessage(game string, groupID int, won []domain.Puzzle) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Group %d", groupID)
	if game != "" {
		fmt.Fprintf(&b, " of %s", game)
	}
	b.WriteString(" completed:")
	for _, p := range won {
		fmt.Fprintf(&b, "\n- #%d %s", p.ID, p.Name)
	}
	return Message{
		Event: EventGameOver,
		Title: fmt.Sprintf("%d puzzle(s) won", len(won)),
		Body:  b.String(),
	}
}
