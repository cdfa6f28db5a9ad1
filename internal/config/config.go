// Package config defines the top-level configuration for the puzzlr backend
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PUZZLR_* environment variables.
type Config struct {
	Hasura   HasuraConfig   `toml:"hasura"`
	Subgraph SubgraphConfig `toml:"subgraph"`
	Chain    ChainConfig    `toml:"chain"`
	Relayer  RelayerConfig  `toml:"relayer"`
	Games    []domain.Game  `toml:"games"`
	Poller   PollerConfig   `toml:"poller"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// HasuraConfig holds the metadata store GraphQL endpoint.
type HasuraConfig struct {
	URL         string `toml:"url"`
	WsURL       string `toml:"ws_url"`
	AdminSecret string `toml:"admin_secret"`
}

// SubgraphConfig holds the event subgraph endpoint.
type SubgraphConfig struct {
	URL               string  `toml:"url"`
	APIKey            string  `toml:"api_key"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// ChainConfig holds JSON-RPC parameters for the contract layer.
type ChainConfig struct {
	RPCURL  string `toml:"rpc_url"`
	ChainID int64  `toml:"chain_id"`
	// GasPriceMultiplier scales the node's suggested gas price.
	GasPriceMultiplier int64 `toml:"gas_price_multiplier"`
}

// RelayerConfig holds bouncer credentials and the write retry policy.
type RelayerConfig struct {
	// BouncerEncryptionKey decrypts bouncer private keys stored in Hasura.
	BouncerEncryptionKey string `toml:"bouncer_encryption_key"`
	UseBouncers          bool   `toml:"use_bouncers"`

	// Fallback relayer key, used when no bouncer is available.
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`

	MaxAttempts     int      `toml:"max_attempts"`
	InitialInterval duration `toml:"initial_interval"`
	MaxInterval     duration `toml:"max_interval"`
	Multiplier      float64  `toml:"multiplier"`
	ConfirmTimeout  duration `toml:"confirm_timeout"`
	DedupTTL        duration `toml:"dedup_ttl"`
}

// PollerConfig holds transfer poller parameters.
type PollerConfig struct {
	Enabled  bool     `toml:"enabled"`
	Game     string   `toml:"game"`
	Interval duration `toml:"interval"`
	// CursorBackend selects where the cursor lives: "postgres" or "redis".
	CursorBackend string `toml:"cursor_backend"`
	CursorName    string `toml:"cursor_name"`
	BatchSize     int    `toml:"batch_size"`
	Archive       bool   `toml:"archive"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AdminAPIKey guards the /api/admin routes via the x-api-key header.
	AdminAPIKey     string   `toml:"admin_api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
	ListingsLimit   int      `toml:"listings_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// DefaultGame is the campaign shipped with the marketplace.
func DefaultGame() domain.Game {
	return domain.Game{
		Path:                 "nearcomm",
		Title:                "NearComm",
		ManagerAddress:       "0x074eb4915A1E817646c411837Ee2992595c83084",
		PieceFactoryAddress:  "0x6925C3B2d23Cb442eF01725a9Dc62826B6F8fBd4",
		ActivePuzzleGroup:    2,
		PastPuzzleGroups:     []int{},
		PackPurchasesEnabled: true,
		TradeInEnabled:       false,
		Packs: []domain.PackTier{
			{Name: "NearCommPack", Tier: 0, NumPieces: 10, Price: 0},
		},
	}
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Hasura: HasuraConfig{
			URL: "http://localhost:8080/v1/graphql",
		},
		Chain: ChainConfig{
			RPCURL:             "https://mainnet.aurora.dev",
			ChainID:            1313161554,
			GasPriceMultiplier: 2,
		},
		Relayer: RelayerConfig{
			UseBouncers:     true,
			MaxAttempts:     3,
			InitialInterval: duration{8 * time.Second},
			MaxInterval:     duration{60 * time.Second},
			Multiplier:      2.0,
			ConfirmTimeout:  duration{8 * time.Second},
			DedupTTL:        duration{30 * time.Second},
		},
		Games: []domain.Game{DefaultGame()},
		Poller: PollerConfig{
			Enabled:       true,
			Game:          "nearcomm",
			Interval:      duration{5 * time.Second},
			CursorBackend: "postgres",
			CursorName:    "transfers",
			BatchSize:     domain.TransfersLimit,
			Archive:       false,
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "puzzlr-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
			ListingsLimit:   domain.ListingsLimit,
		},
		Notify: NotifyConfig{
			Events: []string{"game_over", "dispatch_failed", "poller_error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Game returns the configured game registered under path.
func (c *Config) Game(path string) (domain.Game, bool) {
	for _, g := range c.Games {
		if g.Path == path {
			return g, true
		}
	}
	return domain.Game{}, false
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validCursorBackends = map[string]bool{
	"postgres": true,
	"redis":    true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Hasura
	if c.Hasura.URL == "" {
		errs = append(errs, "hasura: url must not be empty")
	}

	// Subgraph
	if c.Subgraph.URL == "" {
		errs = append(errs, "subgraph: url must not be empty")
	}
	if c.Subgraph.RequestsPerSecond < 0 {
		errs = append(errs, "subgraph: requests_per_second must be >= 0")
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.GasPriceMultiplier < 1 {
		errs = append(errs, "chain: gas_price_multiplier must be >= 1")
	}

	// Relayer: the metatxn API needs at least one signing source.
	needsRelayer := c.Mode == "server" || c.Mode == "full"
	if needsRelayer {
		hasFallback := c.Relayer.PrivateKey != "" || c.Relayer.EncryptedKeyPath != ""
		if !hasFallback && !(c.Relayer.UseBouncers && c.Relayer.BouncerEncryptionKey != "") {
			errs = append(errs, "relayer: set private_key, encrypted_key_path, or use_bouncers with bouncer_encryption_key")
		}
		if c.Relayer.EncryptedKeyPath != "" && c.Relayer.KeyPassword == "" {
			errs = append(errs, "relayer: key_password is required when encrypted_key_path is set")
		}
		if k := len(c.Relayer.BouncerEncryptionKey); k != 0 && k != 16 && k != 24 && k != 32 {
			errs = append(errs, fmt.Sprintf("relayer: bouncer_encryption_key must be 16, 24 or 32 bytes, got %d", k))
		}
	}
	if c.Relayer.MaxAttempts < 1 {
		errs = append(errs, "relayer: max_attempts must be >= 1")
	}
	if c.Relayer.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "relayer: confirm_timeout must be > 0")
	}

	// Games
	if len(c.Games) == 0 {
		errs = append(errs, "games: at least one game must be configured")
	}
	seen := make(map[string]bool, len(c.Games))
	for _, g := range c.Games {
		if g.Path == "" {
			errs = append(errs, "games: path must not be empty")
			continue
		}
		if seen[g.Path] {
			errs = append(errs, fmt.Sprintf("games: duplicate path %q", g.Path))
		}
		seen[g.Path] = true
		if !common.IsHexAddress(g.ManagerAddress) {
			errs = append(errs, fmt.Sprintf("games.%s: manager_address is not a hex address", g.Path))
		}
		if !common.IsHexAddress(g.PieceFactoryAddress) {
			errs = append(errs, fmt.Sprintf("games.%s: piece_factory_address is not a hex address", g.Path))
		}
		if g.ActivePuzzleGroup <= 0 {
			errs = append(errs, fmt.Sprintf("games.%s: active_puzzle_group must be positive", g.Path))
		}
	}

	// Poller
	if c.Poller.Enabled && (c.Mode == "worker" || c.Mode == "full") {
		if _, ok := c.Game(c.Poller.Game); !ok {
			errs = append(errs, fmt.Sprintf("poller: game %q is not configured", c.Poller.Game))
		}
		if c.Poller.Interval.Duration <= 0 {
			errs = append(errs, "poller: interval must be > 0")
		}
		if !validCursorBackends[c.Poller.CursorBackend] {
			errs = append(errs, fmt.Sprintf("poller: unknown cursor_backend %q (valid: postgres, redis)", c.Poller.CursorBackend))
		}
		if c.Poller.CursorName == "" {
			errs = append(errs, "poller: cursor_name must not be empty")
		}
		if c.Poller.BatchSize < 1 {
			errs = append(errs, "poller: batch_size must be >= 1")
		}
		if c.Poller.Archive && c.S3.Bucket == "" {
			errs = append(errs, "poller: archive requires s3.bucket")
		}
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.ListingsLimit < 1 {
			errs = append(errs, "server: listings_limit must be >= 1")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
