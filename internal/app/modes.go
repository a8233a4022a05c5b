package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/skinbot/internal/arbitrage"
	"github.com/alanyoungcy/skinbot/internal/crypto"
	"github.com/alanyoungcy/skinbot/internal/domain"
	"github.com/alanyoungcy/skinbot/internal/fetcher"
	"github.com/alanyoungcy/skinbot/internal/filter"
	"github.com/alanyoungcy/skinbot/internal/pipeline"
	"github.com/alanyoungcy/skinbot/internal/platform/dmarket"
	"github.com/alanyoungcy/skinbot/internal/ratelimit"
	"github.com/alanyoungcy/skinbot/internal/scanner"
	"github.com/alanyoungcy/skinbot/internal/server"
	"github.com/alanyoungcy/skinbot/internal/server/handler"
	"github.com/alanyoungcy/skinbot/internal/server/ws"
)

// scanStack is everything a scanning mode builds on top of Dependencies.
type scanStack struct {
	limiter      *ratelimit.Limiter
	orchestrator *pipeline.Orchestrator
}

// ScanMode runs every configured job once, each to completion, pause or
// failure.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	stack, err := a.buildScanStack(ctx, deps, nil)
	if err != nil {
		return err
	}
	results, err := stack.orchestrator.RunOnce(ctx)
	for _, r := range results {
		a.logger.InfoContext(ctx, "scan result",
			slog.String("scan_id", r.ScanID),
			slog.String("status", string(r.Status)),
			slog.Int("pages", r.Pages),
			slog.Int64("processed", r.Processed),
			slog.Int("opportunities", r.Opportunities),
			slog.Bool("resumed", r.Resumed),
		)
	}
	return err
}

// WatchMode repeats the jobs every scanner.interval and prunes on the
// janitor schedule.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	stack, err := a.buildScanStack(ctx, deps, nil)
	if err != nil {
		return err
	}
	return stack.orchestrator.Run(ctx)
}

// ServeMode runs only the HTTP surface.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil, nil)
	return g.Wait()
}

// AllMode is WatchMode plus the HTTP surface in one process.
func (a *App) AllMode(ctx context.Context, deps *Dependencies) error {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})

	// Without a bus the hub is fed straight from the scanner.
	var hubSink scanner.Sink
	if deps.SignalBus == nil {
		hubSink = scanner.SinkFunc(func(ctx context.Context, opp domain.Opportunity) error {
			payload, err := json.Marshal(scanner.OpportunityEventFrom(opp))
			if err != nil {
				return err
			}
			hub.Broadcast(ctx, scanner.ChannelOpportunities, payload)
			return nil
		})
	}

	stack, err := a.buildScanStack(ctx, deps, hubSink)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, stack.limiter, hub)
	g.Go(func() error { return stack.orchestrator.Run(ctx) })
	return g.Wait()
}

// CleanupMode runs one prune pass and exits.
func (a *App) CleanupMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		a.logger.WarnContext(ctx, "s3 disabled: pruned records are deleted without archiving")
	}
	rep, err := a.newJanitor(deps).Run(ctx)
	if err != nil {
		return fmt.Errorf("app: cleanup: %w", err)
	}
	a.logger.InfoContext(ctx, "cleanup finished",
		slog.Time("cutoff", rep.Cutoff),
		slog.Int64("checkpoints", rep.Checkpoints),
		slog.Int64("opportunities", rep.Opportunities),
	)
	return nil
}

func (a *App) newJanitor(deps *Dependencies) *pipeline.Janitor {
	return pipeline.NewJanitor(
		deps.Checkpoints,
		deps.OpportunityStore,
		deps.Archiver,
		a.cfg.Checkpoint.Retention.Duration,
		deps.Clock,
		a.logger,
	)
}

// buildScanStack connects the marketplace client through the limiter,
// fetcher, detector and scanner into an orchestrator. extra is appended to
// the opportunity sinks when non-nil.
func (a *App) buildScanStack(ctx context.Context, deps *Dependencies, extra scanner.Sink) (*scanStack, error) {
	cfg := a.cfg
	a.logCrashedScans(ctx, deps)

	key, err := crypto.LoadKey(crypto.KeySource{
		RawSecretKey:     cfg.Marketplace.SecretKey,
		EncryptedKeyPath: cfg.Marketplace.EncryptedKeyPath,
		KeyPassword:      cfg.Marketplace.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("app: marketplace key: %w", err)
	}
	client := dmarket.NewClient(
		cfg.Marketplace.BaseURL,
		crypto.NewRequestSigner(cfg.Marketplace.PublicKey, key),
		cfg.Marketplace.HTTPTimeout.Duration,
	)

	limiter := ratelimit.New(ratelimit.Config{
		PerMinute:   cfg.Scanner.RateLimitPerMinute,
		Burst:       cfg.Scanner.Burst,
		BackoffBase: cfg.Scanner.BackoffBase.Duration,
		BackoffCap:  cfg.Scanner.BackoffCap.Duration,
		MaxWait:     cfg.Scanner.AcquireTimeout.Duration,
	}, ratelimit.WithBackoffHook(deps.Metrics.RecordBackoff))

	fetch := fetcher.New(client, limiter, fetcher.Config{
		PageSize:    cfg.Scanner.PageSize,
		Attempts:    cfg.Scanner.FetchAttempts,
		BackoffBase: cfg.Scanner.FetchBackoffBase.Duration,
		PageTimeout: cfg.Scanner.PageTimeout.Duration,
	}, a.logger, fetcher.WithMetrics(deps.Metrics))

	var priceCache domain.ReferencePriceCache = arbitrage.NewMemoryPriceCache(deps.Clock)
	if deps.PriceCache != nil {
		priceCache = deps.PriceCache
	}
	refs := arbitrage.NewCachedReferences(fetch, priceCache, cfg.Scanner.ReferenceTTL.Duration, a.logger)

	strategies, err := arbitrage.NewRegistry(
		arbitrage.NewReference(refs, a.logger),
		arbitrage.Cheapest{},
		arbitrage.Suggested{},
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	strategy, err := strategies.Get(cfg.Scanner.ReferenceMode)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	detector := arbitrage.NewDetector(strategy, deps.Clock, a.logger)

	opts := []scanner.Option{
		scanner.WithMetrics(deps.Metrics),
		scanner.WithNotifier(deps.Notifier),
	}
	if deps.SignalBus != nil {
		opts = append(opts, scanner.WithEvents(scanner.NewEventPublisher(deps.SignalBus, a.logger)))
	}
	if deps.LockManager != nil {
		opts = append(opts, scanner.WithLocks(deps.LockManager, cfg.Scanner.LockTTL.Duration))
	}
	sc := scanner.New(fetch, detector, deps.Checkpoints, a.logger, opts...)
	pool := scanner.NewPool(sc, cfg.Scanner.Concurrency, a.logger)

	orch := pipeline.NewOrchestrator(
		pool,
		a.jobBuilder(filter.DefaultRegistry()),
		a.buildSink(deps, extra),
		a.newJanitor(deps),
		cfg.Scanner.Interval.Duration,
		cfg.Checkpoint.JanitorCron,
		a.logger,
	)

	a.logger.InfoContext(ctx, "scanner ready",
		slog.String("reference_mode", strategy.Name()),
		slog.Int("jobs", len(cfg.Scans)),
		slog.Int("concurrency", cfg.Scanner.Concurrency),
	)
	return &scanStack{limiter: limiter, orchestrator: orch}, nil
}

// jobBuilder turns [[scans]] entries into jobs. Filters are rebuilt on
// every call.
func (a *App) jobBuilder(filters *filter.Registry) func() ([]scanner.Job, error) {
	return func() ([]scanner.Job, error) {
		return buildJobs(a.cfg.Scans, a.cfg.Scanner.MinProfitPercent, a.cfg.Scanner.FeePercent, a.cfg.Scanner.MaxItemsPerScan, filters)
	}
}

// buildSink fans opportunities out to every configured destination.
func (a *App) buildSink(deps *Dependencies, extra scanner.Sink) scanner.Sink {
	sinks := scanner.FanOut{extra}
	if deps.OpportunityStore != nil {
		sinks = append(sinks, scanner.StoreSink{Store: deps.OpportunityStore})
	}
	if deps.SignalBus != nil {
		sinks = append(sinks, scanner.BusSink{Bus: deps.SignalBus})
	}
	if deps.Notifier != nil {
		sinks = append(sinks, scanner.NotifySink{Notifier: deps.Notifier})
	}
	return sinks
}

// logCrashedScans reports scans a previous process left running. Their
// jobs pick them up again through FindActive.
func (a *App) logCrashedScans(ctx context.Context, deps *Dependencies) {
	cps, err := deps.Checkpoints.List(ctx, domain.CheckpointQuery{Statuses: []domain.ScanStatus{domain.ScanRunning}})
	if err != nil {
		a.logger.WarnContext(ctx, "listing interrupted scans failed", slog.String("error", err.Error()))
		return
	}
	for _, cp := range cps {
		a.logger.WarnContext(ctx, "found scan left running by a previous process",
			slog.String("scan_id", cp.ScanID),
			slog.String("user_id", cp.UserID),
			slog.String("operation_type", cp.OperationType),
			slog.Int64("processed_items", cp.ProcessedItems),
			slog.Time("updated_at", cp.UpdatedAt),
		)
	}
}

// startHTTPServer adds the hub, server and shutdown watcher to g. hub may
// be nil, in which case one is built over the signal bus.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, limiter *ratelimit.Limiter, hub *ws.Hub) {
	startedAt := time.Now().UTC()
	if hub == nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:           a.cfg.Mode,
			StartedAt:      startedAt,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
		})
	}

	var stats handler.LimiterStats
	if limiter != nil {
		stats = limiter
	}
	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status:        handler.NewStatusHandler(a.cfg.Mode, startedAt, stats),
		Scans:         handler.NewScanHandler(deps.Checkpoints, a.logger),
		Opportunities: handler.NewOpportunityHandler(deps.OpportunityStore, deps.SignalBus, a.logger),
		Metrics:       deps.Metrics.Handler(),
	}
	if deps.BlobReader != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
		Limiter:            deps.RateLimiter,
		Observe:            deps.Metrics.RecordHTTP,
	}, handlers, hub, a.logger)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})
}
