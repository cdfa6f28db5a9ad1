package app

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/puzzlr/internal/crypto"
	"github.com/alanyoungcy/puzzlr/internal/dispatch"
	"github.com/alanyoungcy/puzzlr/internal/domain"
	"github.com/alanyoungcy/puzzlr/internal/marketplace"
	"github.com/alanyoungcy/puzzlr/internal/pipeline"
	"github.com/alanyoungcy/puzzlr/internal/server"
	"github.com/alanyoungcy/puzzlr/internal/server/handler"
	"github.com/alanyoungcy/puzzlr/internal/server/ws"
	"github.com/alanyoungcy/puzzlr/internal/watch"
)

// ServerMode serves the HTTP API, the WebSocket hub and the game watchers.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startServer(ctx, g, deps, nil); err != nil {
		return err
	}
	return g.Wait()
}

// WorkerMode runs the transfer poller only.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	poller, err := a.newPoller(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return poller.RunLoop(ctx)
	})
	return g.Wait()
}

// FullMode runs the poller and the server in one process. The admin routes
// control the in-process poller.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Bool("poller", a.cfg.Poller.Enabled),
		slog.Bool("server", a.cfg.Server.Enabled),
	)
	if !a.cfg.Poller.Enabled && !a.cfg.Server.Enabled {
		return errors.New("app: full mode with poller and server both disabled")
	}

	g, ctx := errgroup.WithContext(ctx)

	var poller *pipeline.TransferPoller
	if a.cfg.Poller.Enabled {
		p, err := a.newPoller(deps)
		if err != nil {
			return err
		}
		poller = p
		g.Go(func() error {
			return poller.RunLoop(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		if err := a.startServer(ctx, g, deps, poller); err != nil {
			return err
		}
	}

	return g.Wait()
}

// newPoller builds the transfer poller for the configured game.
func (a *App) newPoller(deps *Dependencies) (*pipeline.TransferPoller, error) {
	game, ok := a.cfg.Game(a.cfg.Poller.Game)
	if !ok {
		return nil, fmt.Errorf("app: poller game %q is not configured", a.cfg.Poller.Game)
	}
	if deps.Cursors == nil {
		return nil, fmt.Errorf("app: no cursor store for backend %q", a.cfg.Poller.CursorBackend)
	}

	opts := []pipeline.PollerOption{
		pipeline.WithLocks(deps.LockManager),
		pipeline.WithMetrics(deps.Metrics),
		pipeline.WithAlerts(deps.Notifier),
	}
	if deps.Archiver != nil {
		opts = append(opts, pipeline.WithArchiver(deps.Archiver))
	}

	return pipeline.NewTransferPoller(pipeline.PollerConfig{
		CursorName:   a.cfg.Poller.CursorName,
		ActiveGroup:  game.ActivePuzzleGroup,
		PieceFactory: common.HexToAddress(game.PieceFactoryAddress),
		BatchSize:    a.cfg.Poller.BatchSize,
		Interval:     a.cfg.Poller.Interval.Duration,
	}, deps.Subgraph, deps.Chain, deps.Hasura, deps.Cursors, a.logger, opts...), nil
}

// newDispatcher builds the relayer and the metatransaction dispatcher. The
// dispatcher is closed with the app.
func (a *App) newDispatcher(deps *Dependencies) (*dispatch.Dispatcher, error) {
	rc := a.cfg.Relayer

	var fallback *ecdsa.PrivateKey
	if rc.PrivateKey != "" || rc.EncryptedKeyPath != "" {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    rc.PrivateKey,
			EncryptedKeyPath: rc.EncryptedKeyPath,
			KeyPassword:      rc.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("app: relayer key: %w", err)
		}
		fallback = key
	}

	var bouncers dispatch.BouncerStore
	if rc.UseBouncers {
		bouncers = deps.Hasura
	}
	relayer := dispatch.NewRelayer(bouncers, deps.LockManager, rc.BouncerEncryptionKey, fallback, a.logger)

	d := dispatch.NewDispatcher(a.cfg.Games, deps.Chain, deps.Subgraph, deps.Hasura, relayer, a.logger,
		dispatch.WithAudit(deps.AuditStore),
		dispatch.WithSignalBus(deps.SignalBus),
		dispatch.WithRetryPolicy(dispatch.RetryPolicy{
			MaxAttempts:     rc.MaxAttempts,
			InitialInterval: rc.InitialInterval.Duration,
			MaxInterval:     rc.MaxInterval.Duration,
			Multiplier:      rc.Multiplier,
			ConfirmTimeout:  rc.ConfirmTimeout.Duration,
		}),
		dispatch.WithDedupTTL(rc.DedupTTL.Duration),
		dispatch.WithMetrics(deps.Metrics),
		dispatch.WithAlerts(deps.Notifier),
	)
	a.closers = append(a.closers, d.Close)
	return d, nil
}

// startWatchers opens the game-over subscription of every game and the
// remaining-winners subscription. They are stopped with the app.
func (a *App) startWatchers(ctx context.Context, deps *Dependencies) (*watch.RemainingWinners, error) {
	for _, game := range a.cfg.Games {
		gw := watch.NewGameOver(deps.Hasura, game, deps.SignalBus, deps.Notifier, a.logger)
		if err := gw.Start(ctx); err != nil {
			return nil, fmt.Errorf("app: game over watcher %s: %w", game.Path, err)
		}
		a.closers = append(a.closers, gw.Stop)
	}

	winners := watch.NewRemainingWinners(deps.Hasura, deps.SignalBus, a.logger)
	if err := winners.Start(ctx); err != nil {
		return nil, fmt.Errorf("app: remaining winners watcher: %w", err)
	}
	a.closers = append(a.closers, winners.Stop)
	return winners, nil
}

// startServer builds the API handlers and adds the HTTP server and the
// WebSocket hub to g. poller is nil when the transfer poller runs in another
// process; the admin routes then answer 404. The server is shut down
// gracefully when the context is cancelled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, poller *pipeline.TransferPoller) error {
	sc := a.cfg.Server

	pagers := make(map[string]handler.PageSource, len(a.cfg.Games))
	for _, game := range a.cfg.Games {
		pagers[game.Path] = marketplace.NewPager(deps.Subgraph, deps.Hasura, deps.Hasura, game.ActivePuzzleGroup,
			marketplace.WithLimit(sc.ListingsLimit),
			marketplace.WithMetrics(deps.Metrics),
			marketplace.WithLogger(a.logger.With(slog.String("game", game.Path))),
		)
	}
	accounts := marketplace.NewService(deps.Hasura, deps.Hasura, deps.Subgraph, deps.Hasura)

	dispatcher, err := a.newDispatcher(deps)
	if err != nil {
		return err
	}

	winners, err := a.startWatchers(ctx, deps)
	if err != nil {
		return err
	}

	hub := ws.NewHub(deps.SignalBus, a.logger,
		ws.WithAllowedOrigins(sc.CORSOrigins),
		ws.WithSnapshot(domain.ChannelRemainingWinners, func() any {
			return watch.WinnersEvent{Puzzles: winners.Latest()}
		}),
	)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var control handler.PollerControl
	if poller != nil {
		control = poller
	}

	srv := server.NewServer(server.Config{
		Port:            sc.Port,
		CORSOrigins:     sc.CORSOrigins,
		AdminAPIKey:     sc.AdminAPIKey,
		RateLimit:       sc.RateLimit,
		RateLimitWindow: sc.RateLimitWindow.Duration,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(deps.Checks, a.logger),
		Listings: handler.NewListingsHandler(pagers, a.cfg.Games[0].Path, a.logger),
		Account:  handler.NewAccountHandler(accounts, a.logger),
		MetaTx:   handler.NewMetaTxHandler(dispatcher, a.logger),
		Admin:    handler.NewAdminHandler(control, a.logger).WithDispatchLog(deps.SignalBus),
	}, server.Deps{
		Hub:     hub,
		Limiter: deps.RateLimiter,
		Metrics: deps.Metrics,
	}, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.Info("HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
	return nil
}
