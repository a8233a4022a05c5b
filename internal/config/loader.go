package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over Defaults, applies SKINBOT_*
// environment overrides and returns the result. An empty path skips the
// file. The returned Config has not been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				// Filter tables are free-form and handled by the filter registry.
				if len(k) > 2 && k[0] == "scans" && k[1] == "filter" {
					continue
				}
				keys = append(keys, k.String())
			}
			if len(keys) > 0 {
				return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
			}
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose SKINBOT_* variable is set, so
// secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Marketplace ──
	setStr(&cfg.Marketplace.BaseURL, "SKINBOT_MARKETPLACE_BASE_URL")
	setStr(&cfg.Marketplace.PublicKey, "SKINBOT_MARKETPLACE_PUBLIC_KEY")
	setStr(&cfg.Marketplace.SecretKey, "SKINBOT_MARKETPLACE_SECRET_KEY")
	setStr(&cfg.Marketplace.EncryptedKeyPath, "SKINBOT_MARKETPLACE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Marketplace.KeyPassword, "SKINBOT_MARKETPLACE_KEY_PASSWORD")
	setDuration(&cfg.Marketplace.HTTPTimeout, "SKINBOT_MARKETPLACE_HTTP_TIMEOUT")

	// ── Scanner ──
	setFloat64(&cfg.Scanner.MinProfitPercent, "SKINBOT_SCANNER_MIN_PROFIT_PERCENT")
	setFloat64(&cfg.Scanner.FeePercent, "SKINBOT_SCANNER_FEE_PERCENT")
	setInt64(&cfg.Scanner.MaxItemsPerScan, "SKINBOT_SCANNER_MAX_ITEMS_PER_SCAN")
	setInt(&cfg.Scanner.RateLimitPerMinute, "SKINBOT_SCANNER_RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.Scanner.Burst, "SKINBOT_SCANNER_BURST")
	setDuration(&cfg.Scanner.BackoffBase, "SKINBOT_SCANNER_BACKOFF_BASE")
	setDuration(&cfg.Scanner.BackoffCap, "SKINBOT_SCANNER_BACKOFF_CAP")
	setDuration(&cfg.Scanner.AcquireTimeout, "SKINBOT_SCANNER_ACQUIRE_TIMEOUT")
	setDuration(&cfg.Scanner.PageTimeout, "SKINBOT_SCANNER_PAGE_TIMEOUT")
	setInt(&cfg.Scanner.FetchAttempts, "SKINBOT_SCANNER_FETCH_ATTEMPTS")
	setDuration(&cfg.Scanner.FetchBackoffBase, "SKINBOT_SCANNER_FETCH_BACKOFF_BASE")
	setInt(&cfg.Scanner.PageSize, "SKINBOT_SCANNER_PAGE_SIZE")
	setStr(&cfg.Scanner.ReferenceMode, "SKINBOT_SCANNER_REFERENCE_MODE")
	setDuration(&cfg.Scanner.ReferenceTTL, "SKINBOT_SCANNER_REFERENCE_TTL")
	setDuration(&cfg.Scanner.Interval, "SKINBOT_SCANNER_INTERVAL")
	setInt(&cfg.Scanner.Concurrency, "SKINBOT_SCANNER_CONCURRENCY")
	setDuration(&cfg.Scanner.LockTTL, "SKINBOT_SCANNER_LOCK_TTL")

	// ── Checkpoint ──
	setStr(&cfg.Checkpoint.Backend, "SKINBOT_CHECKPOINT_BACKEND")
	setStr(&cfg.Checkpoint.SQLitePath, "SKINBOT_CHECKPOINT_SQLITE_PATH")
	setDuration(&cfg.Checkpoint.Retention, "SKINBOT_CHECKPOINT_RETENTION")
	setStr(&cfg.Checkpoint.JanitorCron, "SKINBOT_CHECKPOINT_JANITOR_CRON")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SKINBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SKINBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SKINBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SKINBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SKINBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SKINBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SKINBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SKINBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SKINBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SKINBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SKINBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SKINBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SKINBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SKINBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SKINBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SKINBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SKINBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SKINBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "SKINBOT_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SKINBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SKINBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SKINBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SKINBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SKINBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SKINBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SKINBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SKINBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "SKINBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "SKINBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SKINBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimitPerMinute, "SKINBOT_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SKINBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SKINBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SKINBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SKINBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SKINBOT_MODE")
	setStr(&cfg.LogLevel, "SKINBOT_LOG_LEVEL")
}

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
