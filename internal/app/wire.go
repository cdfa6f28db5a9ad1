package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/puzzlr/internal/blob/s3"
	"github.com/alanyoungcy/puzzlr/internal/cache/redis"
	"github.com/alanyoungcy/puzzlr/internal/config"
	"github.com/alanyoungcy/puzzlr/internal/domain"
	"github.com/alanyoungcy/puzzlr/internal/metrics"
	"github.com/alanyoungcy/puzzlr/internal/notify"
	"github.com/alanyoungcy/puzzlr/internal/platform/chain"
	"github.com/alanyoungcy/puzzlr/internal/platform/hasura"
	"github.com/alanyoungcy/puzzlr/internal/platform/subgraph"
	"github.com/alanyoungcy/puzzlr/internal/server/handler"
	"github.com/alanyoungcy/puzzlr/internal/store/postgres"
)

// Dependencies bundles the clients and stores the application modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Upstreams
	Hasura   *hasura.Client
	Subgraph *subgraph.Client
	Chain    *chain.Client

	// Stores
	AuditStore domain.AuditStore
	Cursors    domain.CursorStore

	// Redis
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Archiver is nil unless poller archiving is enabled.
	Archiver *s3blob.TransferArchiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Checks are the readiness probes served by /api/health.
	Checks map[string]handler.Check
}

// needsPostgres returns true for modes that require a database connection.
// The worker only needs one when the cursor lives in postgres.
func needsPostgres(cfg *config.Config) bool {
	switch cfg.Mode {
	case "server", "full":
		return true
	case "worker":
		return cfg.Poller.CursorBackend == "postgres"
	default:
		return false
	}
}

// needsS3 returns true when polled batches are archived.
func needsS3(cfg *config.Config) bool {
	return cfg.Poller.Archive && (cfg.Mode == "worker" || cfg.Mode == "full")
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Check),
	}

	// --- Upstreams ---
	deps.Hasura = hasura.NewClient(cfg.Hasura.URL, cfg.Hasura.WsURL, cfg.Hasura.AdminSecret)

	var sgOpts []subgraph.Option
	if cfg.Subgraph.RequestsPerSecond > 0 {
		sgOpts = append(sgOpts, subgraph.WithRateLimit(cfg.Subgraph.RequestsPerSecond, cfg.Subgraph.Burst))
	}
	deps.Subgraph = subgraph.NewClient(cfg.Subgraph.URL, cfg.Subgraph.APIKey, sgOpts...)
	deps.Checks["subgraph"] = func(ctx context.Context) error {
		_, err := deps.Subgraph.FetchLatestBlock(ctx)
		return err
	}

	backend, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fail("chain", err)
	}
	closers = append(closers, backend.Close)
	deps.Chain, err = chain.NewClient(backend, cfg.Chain.ChainID, cfg.Chain.GasPriceMultiplier)
	if err != nil {
		return fail("chain", err)
	}

	// --- PostgreSQL ---
	if needsPostgres(cfg) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.AuditStore = postgres.NewAuditStore(pool)
		if cfg.Poller.CursorBackend == "postgres" {
			deps.Cursors = postgres.NewCursorStore(pool)
		}
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	if cfg.Poller.CursorBackend == "redis" {
		deps.Cursors = redis.NewCursorStore(redisClient)
	}
	deps.Checks["redis"] = redisClient.Ping

	// --- S3 ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Archiver = s3blob.NewTransferArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.AuditStore,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	names := make([]string, 0, len(deps.Checks))
	for name := range deps.Checks {
		names = append(names, name)
	}
	logger.InfoContext(ctx, "dependencies wired",
		slog.String("checks", strings.Join(names, ",")),
		slog.Int("notify_senders", len(senders)),
	)
	return deps, cleanup, nil
}
