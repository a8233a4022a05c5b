package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/skinbot/internal/blob/s3"
	"github.com/alanyoungcy/skinbot/internal/cache/redis"
	"github.com/alanyoungcy/skinbot/internal/checkpoint"
	"github.com/alanyoungcy/skinbot/internal/clock"
	"github.com/alanyoungcy/skinbot/internal/config"
	"github.com/alanyoungcy/skinbot/internal/domain"
	"github.com/alanyoungcy/skinbot/internal/metrics"
	"github.com/alanyoungcy/skinbot/internal/notify"
	"github.com/alanyoungcy/skinbot/internal/server/handler"
	"github.com/alanyoungcy/skinbot/internal/store/postgres"
	"github.com/alanyoungcy/skinbot/internal/store/sqlite"
)

// Dependencies bundles the infrastructure every mode draws from. Optional
// backends are nil when disabled in config.
type Dependencies struct {
	// Stores
	CheckpointStore  domain.CheckpointStore
	OpportunityStore domain.OpportunityStore
	AuditStore       domain.AuditStore
	Checkpoints      *checkpoint.Manager

	// Redis
	PriceCache  domain.ReferencePriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Clock    clock.Clock

	// HealthChecks ping each connected backend for /api/health.
	HealthChecks map[string]handler.Check
}

// Wire connects every configured backend and returns a cleanup that
// releases them in reverse order.
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
		Metrics:      metrics.New(),
		Clock:        clock.Real{},
		HealthChecks: make(map[string]handler.Check),
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.OpportunityStore = postgres.NewOpportunityStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		if cfg.Checkpoint.Backend == "postgres" {
			deps.CheckpointStore = postgres.NewCheckpointStore(pool)
		}
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Checkpoint store ---
	switch cfg.Checkpoint.Backend {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Checkpoint.SQLitePath)
		if err != nil {
			return fail("sqlite", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.CheckpointStore = sqlite.NewCheckpointStore(db)
		deps.HealthChecks["sqlite"] = db.PingContext
	case "memory":
		logger.WarnContext(ctx, "checkpoints are kept in memory and lost on restart")
		deps.CheckpointStore = checkpoint.NewMemoryStore()
	}
	if deps.CheckpointStore == nil {
		return fail("checkpoint store", fmt.Errorf("backend %q is not available", cfg.Checkpoint.Backend))
	}
	deps.Checkpoints = checkpoint.NewManager(deps.CheckpointStore, deps.Clock, logger)

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
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
		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), reader, deps.AuditStore)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}
