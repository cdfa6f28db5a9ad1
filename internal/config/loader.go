package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PUZZLR_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// A [[games]] table in the file replaces the default registry entirely.
	cfg.Games = nil
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Games) == 0 {
		cfg.Games = []domain.Game{DefaultGame()}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PUZZLR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Hasura ──
	setStr(&cfg.Hasura.URL, "PUZZLR_HASURA_URL")
	setStr(&cfg.Hasura.WsURL, "PUZZLR_HASURA_WS_URL")
	setStr(&cfg.Hasura.AdminSecret, "PUZZLR_HASURA_ADMIN_SECRET")

	// ── Subgraph ──
	setStr(&cfg.Subgraph.URL, "PUZZLR_SUBGRAPH_URL")
	setStr(&cfg.Subgraph.APIKey, "PUZZLR_SUBGRAPH_API_KEY")
	setFloat64(&cfg.Subgraph.RequestsPerSecond, "PUZZLR_SUBGRAPH_REQUESTS_PER_SECOND")
	setInt(&cfg.Subgraph.Burst, "PUZZLR_SUBGRAPH_BURST")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "PUZZLR_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "PUZZLR_CHAIN_ID")
	setInt64(&cfg.Chain.GasPriceMultiplier, "PUZZLR_CHAIN_GAS_PRICE_MULTIPLIER")

	// ── Relayer ──
	setStr(&cfg.Relayer.BouncerEncryptionKey, "PUZZLR_RELAYER_BOUNCER_ENCRYPTION_KEY")
	setStr(&cfg.Relayer.BouncerEncryptionKey, "ENCRYPTION_KEY") // compatibility alias
	setBool(&cfg.Relayer.UseBouncers, "PUZZLR_RELAYER_USE_BOUNCERS")
	setStr(&cfg.Relayer.PrivateKey, "PUZZLR_RELAYER_PRIVATE_KEY")
	setStr(&cfg.Relayer.EncryptedKeyPath, "PUZZLR_RELAYER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Relayer.KeyPassword, "PUZZLR_RELAYER_KEY_PASSWORD")
	setInt(&cfg.Relayer.MaxAttempts, "PUZZLR_RELAYER_MAX_ATTEMPTS")
	setDuration(&cfg.Relayer.InitialInterval, "PUZZLR_RELAYER_INITIAL_INTERVAL")
	setDuration(&cfg.Relayer.MaxInterval, "PUZZLR_RELAYER_MAX_INTERVAL")
	setFloat64(&cfg.Relayer.Multiplier, "PUZZLR_RELAYER_MULTIPLIER")
	setDuration(&cfg.Relayer.ConfirmTimeout, "PUZZLR_RELAYER_CONFIRM_TIMEOUT")
	setDuration(&cfg.Relayer.DedupTTL, "PUZZLR_RELAYER_DEDUP_TTL")

	// ── Poller ──
	setBool(&cfg.Poller.Enabled, "PUZZLR_POLLER_ENABLED")
	setStr(&cfg.Poller.Game, "PUZZLR_POLLER_GAME")
	setDuration(&cfg.Poller.Interval, "PUZZLR_POLLER_INTERVAL")
	setStr(&cfg.Poller.CursorBackend, "PUZZLR_POLLER_CURSOR_BACKEND")
	setStr(&cfg.Poller.CursorName, "PUZZLR_POLLER_CURSOR_NAME")
	setInt(&cfg.Poller.BatchSize, "PUZZLR_POLLER_BATCH_SIZE")
	setBool(&cfg.Poller.Archive, "PUZZLR_POLLER_ARCHIVE")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "PUZZLR_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "PUZZLR_DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "PUZZLR_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "PUZZLR_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "PUZZLR_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "PUZZLR_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "PUZZLR_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "PUZZLR_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "PUZZLR_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "PUZZLR_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "PUZZLR_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PUZZLR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PUZZLR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PUZZLR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PUZZLR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PUZZLR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PUZZLR_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PUZZLR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PUZZLR_S3_REGION")
	setStr(&cfg.S3.Bucket, "PUZZLR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PUZZLR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PUZZLR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PUZZLR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PUZZLR_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PUZZLR_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PUZZLR_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PUZZLR_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminAPIKey, "PUZZLR_SERVER_ADMIN_API_KEY")
	setInt(&cfg.Server.RateLimit, "PUZZLR_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "PUZZLR_SERVER_RATE_LIMIT_WINDOW")
	setInt(&cfg.Server.ListingsLimit, "PUZZLR_SERVER_LISTINGS_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PUZZLR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PUZZLR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PUZZLR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PUZZLR_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PUZZLR_MODE")
	setStr(&cfg.LogLevel, "PUZZLR_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
