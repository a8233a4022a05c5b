// Package config defines the skinbot configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by SKINBOT_* environment variables.
type Config struct {
	Marketplace MarketplaceConfig `toml:"marketplace"`
	Scanner     ScannerConfig     `toml:"scanner"`
	Scans       []ScanConfig      `toml:"scans"`
	Checkpoint  CheckpointConfig  `toml:"checkpoint"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// MarketplaceConfig holds the DMarket endpoint and API credentials. The
// secret key is either given inline as hex or sealed in a file.
type MarketplaceConfig struct {
	BaseURL          string   `toml:"base_url"`
	PublicKey        string   `toml:"public_key"`
	SecretKey        string   `toml:"secret_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	HTTPTimeout      duration `toml:"http_timeout"`
}

// ScannerConfig tunes rate limiting, fetching and detection.
type ScannerConfig struct {
	MinProfitPercent   float64  `toml:"min_profit_percent"`
	FeePercent         float64  `toml:"fee_percent"`
	MaxItemsPerScan    int64    `toml:"max_items_per_scan"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
	Burst              int      `toml:"burst"`
	BackoffBase        duration `toml:"backoff_base"`
	BackoffCap         duration `toml:"backoff_cap"`
	AcquireTimeout     duration `toml:"acquire_timeout"`
	PageTimeout        duration `toml:"page_timeout"`
	FetchAttempts      int      `toml:"fetch_attempts"`
	FetchBackoffBase   duration `toml:"fetch_backoff_base"`
	PageSize           int      `toml:"page_size"`
	// ReferenceMode picks the sell-side price: "reference", "cheapest" or "suggested".
	ReferenceMode string   `toml:"reference_mode"`
	ReferenceTTL  duration `toml:"reference_ttl"`
	Interval      duration `toml:"interval"`
	Concurrency   int      `toml:"concurrency"`
	LockTTL       duration `toml:"lock_ttl"`
}

// MaxPageSize is the largest page the marketplace serves per request.
const MaxPageSize = 100

// ScanConfig is one configured scan job.
type ScanConfig struct {
	UserID        string         `toml:"user_id"`
	Game          string         `toml:"game"`
	OperationType string         `toml:"operation_type"`
	Filter        map[string]any `toml:"filter"`
	// Overrides; zero keeps the scanner default.
	MinProfitPercent float64 `toml:"min_profit_percent"`
	MaxItems         int64   `toml:"max_items"`
}

// Operation returns the operation type the scan's checkpoints are keyed by.
// It defaults to "arbitrage:<game>" so jobs for different games of one user
// never share a checkpoint.
func (s ScanConfig) Operation() string {
	if s.OperationType != "" {
		return s.OperationType
	}
	return "arbitrage:" + s.Game
}

// CheckpointConfig selects the checkpoint store and retention.
type CheckpointConfig struct {
	Backend     string   `toml:"backend"`
	SQLitePath  string   `toml:"sqlite_path"`
	Retention   duration `toml:"retention"`
	JanitorCron string   `toml:"janitor_cron"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds the archive bucket parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration wraps time.Duration so TOML strings like "5m" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port               int      `toml:"port"`
	APIKey             string   `toml:"api_key"`
	CORSOrigins        []string `toml:"cors_origins"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config with the values of config.example.toml.
func Defaults() Config {
	return Config{
		Marketplace: MarketplaceConfig{
			BaseURL:     "https://api.dmarket.com",
			HTTPTimeout: duration{15 * time.Second},
		},
		Scanner: ScannerConfig{
			MinProfitPercent:   10,
			FeePercent:         5,
			RateLimitPerMinute: 60,
			Burst:              5,
			BackoffBase:        duration{time.Second},
			BackoffCap:         duration{60 * time.Second},
			AcquireTimeout:     duration{2 * time.Minute},
			PageTimeout:        duration{30 * time.Second},
			FetchAttempts:      3,
			FetchBackoffBase:   duration{500 * time.Millisecond},
			PageSize:           100,
			ReferenceMode:      "reference",
			ReferenceTTL:       duration{10 * time.Minute},
			Interval:           duration{15 * time.Minute},
			Concurrency:        2,
			LockTTL:            duration{30 * time.Minute},
		},
		Checkpoint: CheckpointConfig{
			Backend:     "sqlite",
			SQLitePath:  "data/skinbot.db",
			Retention:   duration{30 * 24 * time.Hour},
			JanitorCron: "0 4 * * *",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "skinbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "skinbot",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "skinbot-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000"},
			RateLimitPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity", "scan_completed", "scan_failed"},
		},
		Mode:     "scan",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"scan":    true,
	"watch":   true,
	"serve":   true,
	"all":     true,
	"cleanup": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validReferenceModes = map[string]bool{
	"reference": true,
	"cheapest":  true,
	"suggested": true,
}

var validGames = map[string]bool{"csgo": true, "dota2": true, "rust": true, "tf2": true}

// Validate returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, watch, serve, all, cleanup)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Marketplace.BaseURL == "" {
		errs = append(errs, "marketplace: base_url must not be empty")
	}
	if c.Marketplace.EncryptedKeyPath != "" && c.Marketplace.KeyPassword == "" {
		errs = append(errs, "marketplace: key_password is required when encrypted_key_path is set")
	}
	if c.Marketplace.SecretKey != "" && c.Marketplace.PublicKey == "" {
		errs = append(errs, "marketplace: public_key is required when a secret key is set")
	}

	s := c.Scanner
	if s.FeePercent < 0 || s.FeePercent > 100 {
		errs = append(errs, fmt.Sprintf("scanner: fee_percent must be within 0-100, got %g", s.FeePercent))
	}
	if s.MaxItemsPerScan < 0 {
		errs = append(errs, "scanner: max_items_per_scan must be >= 0")
	}
	if s.RateLimitPerMinute < 1 {
		errs = append(errs, "scanner: rate_limit_per_minute must be >= 1")
	}
	if s.Burst < 1 {
		errs = append(errs, "scanner: burst must be >= 1")
	}
	if s.BackoffBase.Duration <= 0 || s.BackoffCap.Duration < s.BackoffBase.Duration {
		errs = append(errs, "scanner: backoff_base must be > 0 and backoff_cap >= backoff_base")
	}
	if s.FetchAttempts < 1 {
		errs = append(errs, "scanner: fetch_attempts must be >= 1")
	}
	if s.PageSize < 1 || s.PageSize > MaxPageSize {
		errs = append(errs, fmt.Sprintf("scanner: page_size must be within 1-%d", MaxPageSize))
	}
	if !validReferenceModes[s.ReferenceMode] {
		errs = append(errs, fmt.Sprintf("scanner: unknown reference_mode %q (valid: reference, cheapest, suggested)", s.ReferenceMode))
	}
	if s.Interval.Duration <= 0 && (mode == "watch" || mode == "all") {
		errs = append(errs, "scanner: interval must be > 0 in watch mode")
	}

	if mode == "scan" || mode == "watch" || mode == "all" {
		if len(c.Scans) == 0 {
			errs = append(errs, "scans: at least one [[scans]] entry is required for mode "+mode)
		}
		if c.Marketplace.SecretKey == "" && c.Marketplace.EncryptedKeyPath == "" {
			errs = append(errs, "marketplace: secret_key or encrypted_key_path must be set for mode "+mode)
		}
	}
	seen := make(map[string]int, len(c.Scans))
	for i, sc := range c.Scans {
		key := sc.UserID + "/" + sc.Operation()
		if j, dup := seen[key]; dup {
			errs = append(errs, fmt.Sprintf("scans[%d]: duplicates scans[%d] (user_id %q, operation_type %q)", i, j, sc.UserID, sc.Operation()))
		} else {
			seen[key] = i
		}
		if sc.UserID == "" {
			errs = append(errs, fmt.Sprintf("scans[%d]: user_id must not be empty", i))
		}
		if !validGames[sc.Game] {
			errs = append(errs, fmt.Sprintf("scans[%d]: unknown game %q", i, sc.Game))
		}
		if sc.MaxItems < 0 {
			errs = append(errs, fmt.Sprintf("scans[%d]: max_items must be >= 0", i))
		}
	}

	switch c.Checkpoint.Backend {
	case "memory":
	case "sqlite":
		if c.Checkpoint.SQLitePath == "" {
			errs = append(errs, "checkpoint: sqlite_path must not be empty for the sqlite backend")
		}
	case "postgres":
		if !c.Postgres.Enabled {
			errs = append(errs, "checkpoint: the postgres backend requires postgres.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("checkpoint: unknown backend %q (valid: memory, sqlite, postgres)", c.Checkpoint.Backend))
	}
	if c.Checkpoint.Retention.Duration <= 0 {
		errs = append(errs, "checkpoint: retention must be > 0")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if mode == "serve" || mode == "all" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
