// Package pipeline runs the long-lived background loops: repeated scan
// batches and the retention janitor.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/skinbot/internal/scanner"
)

// BatchRunner runs one batch of scan jobs. *scanner.Pool satisfies it.
type BatchRunner interface {
	Run(ctx context.Context, jobs []scanner.Job, sink scanner.Sink) ([]scanner.Result, error)
}

// Orchestrator repeats the configured scan batch every interval and runs the
// janitor on its cron schedule.
type Orchestrator struct {
	pool        BatchRunner
	jobs        func() ([]scanner.Job, error)
	sink        scanner.Sink
	janitor     *Janitor
	interval    time.Duration
	janitorCron string
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator. jobs is called before every
// batch so filters are rebuilt fresh. janitor may be nil.
func NewOrchestrator(
	pool BatchRunner,
	jobs func() ([]scanner.Job, error),
	sink scanner.Sink,
	janitor *Janitor,
	interval time.Duration,
	janitorCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		pool:        pool,
		jobs:        jobs,
		sink:        sink,
		janitor:     janitor,
		interval:    interval,
		janitorCron: janitorCron,
		logger:      logger.With(slog.String("component", "orchestrator")),
	}
}

// Run blocks until ctx is cancelled or a loop fails permanently.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "orchestrator starting",
		slog.Duration("scan_interval", o.interval),
		slog.String("janitor_cron", o.janitorCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.scanLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("scan loop: %w", err)
	})

	if o.janitor != nil && o.janitorCron != "" {
		g.Go(func() error {
			err := o.janitor.RunCron(ctx, o.janitorCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("janitor: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("orchestrator stopped cleanly")
	return nil
}

// RunOnce executes a single scan batch.
func (o *Orchestrator) RunOnce(ctx context.Context) ([]scanner.Result, error) {
	jobs, err := o.jobs()
	if err != nil {
		return nil, fmt.Errorf("building jobs: %w", err)
	}
	return o.pool.Run(ctx, jobs, o.sink)
}

func (o *Orchestrator) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		results, err := o.RunOnce(ctx)
		if err != nil {
			// Failed scans are already marked failed; the next batch starts fresh ones.
			o.logger.ErrorContext(ctx, "scan batch failed", slog.String("error", err.Error()))
		}
		o.logger.InfoContext(ctx, "scan batch finished", slog.Int("scans", len(results)))
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
