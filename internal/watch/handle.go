// Package watch keeps live Hasura subscriptions on game state and fans their
// snapshots out to the signal bus. Each watcher is an explicit handle with
// Start and Stop.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrRunning is returned by Start on a watcher that is already running.
var ErrRunning = errors.New("watch: already running")

// handle owns the goroutine of one subscription.
type handle struct {
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	logger    *slog.Logger
}

// start runs fn in a goroutine until Stop or parent cancellation.
func (h *handle) start(parent context.Context, name string, fn func(ctx context.Context) error) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	if h.cancel != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(parent)
	h.cancel = cancel
	h.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		h.logger.Info("watcher started", slog.String("watcher", name))
		err := fn(ctx)
		if err != nil && ctx.Err() == nil {
			h.logger.Error("watcher ended", slog.String("watcher", name), slog.String("error", err.Error()))
			return
		}
		h.logger.Info("watcher stopped", slog.String("watcher", name))
	}(h.done)
	return nil
}

// stop cancels the subscription and waits for its goroutine. It reports
// whether the handle was running.
func (h *handle) stop() bool {
	h.lifecycle.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.lifecycle.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return true
}

// Running reports whether the watcher has been started and not stopped.
func (h *handle) Running() bool {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()
	return h.cancel != nil
}
