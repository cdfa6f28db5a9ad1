// Package server exposes the marketplace HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/puzzlr/internal/domain"
	"github.com/alanyoungcy/puzzlr/internal/metrics"
	"github.com/alanyoungcy/puzzlr/internal/server/handler"
	"github.com/alanyoungcy/puzzlr/internal/server/middleware"
	"github.com/alanyoungcy/puzzlr/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	AdminAPIKey     string
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates the route handlers. Nil handlers leave their routes
// unregistered.
type Handlers struct {
	Health   *handler.HealthHandler
	Listings *handler.ListingsHandler
	Account  *handler.AccountHandler
	MetaTx   *handler.MetaTxHandler
	Admin    *handler.AdminHandler
}

// Deps are the optional infrastructure pieces of the server.
type Deps struct {
	Hub     *ws.Hub
	Limiter domain.RateLimiter
	Metrics *metrics.Metrics
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()
	routes(mux, cfg, handlers, deps)

	var h http.Handler = mux
	h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(h)
	h = middleware.Logging(logger, deps.Metrics)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      90 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

func routes(mux *http.ServeMux, cfg Config, hs Handlers, deps Deps) {
	if hs.Health != nil {
		mux.HandleFunc("GET /api/health", hs.Health.HealthCheck)
	}

	if hs.Listings != nil {
		mux.HandleFunc("GET /api/listings", hs.Listings.ListAll)
		mux.HandleFunc("GET /api/{address}/mylistings", hs.Listings.MyListings)
		mux.HandleFunc("GET /api/{address}/swapHistory", hs.Listings.SwapHistory)
	}

	if hs.Account != nil {
		mux.HandleFunc("GET /api/{address}/livepieces", hs.Account.LivePieces)
		mux.HandleFunc("GET /api/{address}/packs", hs.Account.Packs)
		mux.HandleFunc("GET /api/{address}/winnings", hs.Account.Winnings)
		mux.HandleFunc("GET /api/puzzles/live", hs.Account.LivePuzzles)
		mux.HandleFunc("GET /api/puzzles/completed/{group}", hs.Account.CompletedPuzzles)
	}

	if hs.MetaTx != nil {
		mux.HandleFunc("POST /api/metatxns", hs.MetaTx.Submit)
	}

	if hs.Admin != nil {
		admin := middleware.AdminKey(cfg.AdminAPIKey)
		mux.Handle("GET /api/admin/cursor", admin(http.HandlerFunc(hs.Admin.GetCursor)))
		mux.Handle("PUT /api/admin/cursor", admin(http.HandlerFunc(hs.Admin.ResetCursor)))
		mux.Handle("POST /api/admin/poller/trigger", admin(http.HandlerFunc(hs.Admin.TriggerPoll)))
		mux.Handle("GET /api/admin/dispatches", admin(http.HandlerFunc(hs.Admin.ListDispatches)))
	}

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
