package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Pool runs independent jobs concurrently. The jobs share the scanner's
// fetcher and therefore its per-endpoint rate budget.
type Pool struct {
	scanner     *Scanner
	concurrency int
	logger      *slog.Logger
}

// NewPool creates a pool running at most concurrency jobs at once.
func NewPool(s *Scanner, concurrency int, logger *slog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{scanner: s, concurrency: concurrency, logger: logger.With(slog.String("component", "scan_pool"))}
}

// Run executes every job and returns their results in job order. One
// failing job does not cancel the others; all failures are joined into the
// returned error.
func (p *Pool) Run(ctx context.Context, jobs []Job, sink Sink) ([]Result, error) {
	results := make([]Result, len(jobs))
	errs := make([]error, len(jobs))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			res, err := p.scanner.Run(ctx, job, sink)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("job %d (%s/%s): %w", i, job.UserID, job.OperationType, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		p.logger.WarnContext(ctx, "scan batch finished with failures", slog.String("error", err.Error()))
	}
	return results, err
}
