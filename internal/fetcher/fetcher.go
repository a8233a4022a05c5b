// Package fetcher pages through a game's marketplace catalog through the
// shared rate limiter, retrying transient failures.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/skinbot/internal/clock"
	"github.com/alanyoungcy/skinbot/internal/domain"
	"github.com/alanyoungcy/skinbot/internal/filter"
	"github.com/alanyoungcy/skinbot/internal/metrics"
	"github.com/alanyoungcy/skinbot/internal/platform/dmarket"
)

// Marketplace is the subset of the marketplace client the fetcher drives.
type Marketplace interface {
	FetchListings(ctx context.Context, game domain.Game, query url.Values, cursor string, limit int) (domain.Page, error)
	FetchReferencePrice(ctx context.Context, game domain.Game, title string) (int64, error)
}

// Limiter is the rate limiter contract.
type Limiter interface {
	Acquire(ctx context.Context, endpoint string) error
	RecordResponse(endpoint string, status int)
}

// maxPageSize is the marketplace's per-request cap.
const maxPageSize = 100

// Config bounds paging and retries.
type Config struct {
	PageSize        int
	Attempts        int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	PageTimeout     time.Duration
	MaxQuotaRetries int
}

func (c *Config) setDefaults() {
	if c.PageSize <= 0 || c.PageSize > maxPageSize {
		c.PageSize = maxPageSize
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 10 * time.Second
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 30 * time.Second
	}
	if c.MaxQuotaRetries <= 0 {
		c.MaxQuotaRetries = 10
	}
}

// Fetcher implements page retrieval and reference lookups.
type Fetcher struct {
	market  Marketplace
	limiter Limiter
	cfg     Config
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClock replaces the clock used for retry sleeps.
func WithClock(c clock.Clock) Option { return func(f *Fetcher) { f.clock = c } }

// WithMetrics records request outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(f *Fetcher) { f.metrics = m } }

// New creates a fetcher.
func New(market Marketplace, limiter Limiter, cfg Config, logger *slog.Logger, opts ...Option) *Fetcher {
	cfg.setDefaults()
	f := &Fetcher{
		market:  market,
		limiter: limiter,
		cfg:     cfg,
		clock:   clock.Real{},
		logger:  logger.With(slog.String("component", "fetcher")),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// FetchPage returns the page at cursor for the filter's game. An empty
// cursor is the first page; an empty Page.Cursor means the catalog is
// exhausted. Listings the filter rejects are dropped.
func (f *Fetcher) FetchPage(ctx context.Context, gf filter.GameFilter, cursor string) (domain.Page, error) {
	var page domain.Page
	err := f.call(ctx, dmarket.EndpointMarketItems, func(ctx context.Context) error {
		var err error
		page, err = f.market.FetchListings(ctx, gf.Game(), gf.Query(), cursor, f.cfg.PageSize)
		return err
	})
	if err != nil {
		return domain.Page{}, fmt.Errorf("fetcher: page %q: %w", cursor, err)
	}

	kept := page.Items[:0]
	for _, l := range page.Items {
		if gf.Apply(l) {
			kept = append(kept, l)
		}
	}
	page.Items = kept
	return page, nil
}

// ReferencePrice looks up the sell-side reference for title through the
// limiter. domain.ErrNotFound passes through unchanged.
func (f *Fetcher) ReferencePrice(ctx context.Context, game domain.Game, title string) (int64, error) {
	var price int64
	err := f.call(ctx, dmarket.EndpointAggregatedPrices, func(ctx context.Context) error {
		var err error
		price, err = f.market.FetchReferencePrice(ctx, game, title)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fetcher: reference %q: %w", title, err)
	}
	return price, nil
}

type failure int

const (
	failNone failure = iota
	failQuota
	failTransient
	failPermanent
)

// call runs fn under the limiter. Transient failures are retried with
// exponential backoff up to cfg.Attempts; quota responses are handed to the
// limiter and retried without consuming an attempt.
func (f *Fetcher) call(ctx context.Context, endpoint string, fn func(context.Context) error) error {
	var transient, quota int
	for {
		if err := f.limiter.Acquire(ctx, endpoint); err != nil {
			if errors.Is(err, domain.ErrQuotaExceeded) {
				return fmt.Errorf("%w: %w", domain.ErrFetchFailed, err)
			}
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.PageTimeout)
		start := f.clock.Now()
		err := fn(attemptCtx)
		cancel()

		status := statusOf(err)
		f.limiter.RecordResponse(endpoint, status)
		f.metrics.RecordRequest(endpoint, status, f.clock.Now().Sub(start))

		if err == nil || errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		switch classify(err, status) {
		case failQuota:
			quota++
			f.metrics.RecordRetry(endpoint, "quota")
			if quota > f.cfg.MaxQuotaRetries {
				return fmt.Errorf("%w: %d quota responses: %w", domain.ErrFetchFailed, quota, err)
			}
			f.logger.WarnContext(ctx, "rate limited",
				slog.String("endpoint", endpoint),
				slog.Int("quota_retries", quota),
			)
		case failTransient:
			transient++
			if transient >= f.cfg.Attempts {
				return fmt.Errorf("%w: after %d attempts: %w", domain.ErrFetchFailed, transient, err)
			}
			f.metrics.RecordRetry(endpoint, "transient")
			delay := f.backoff(transient)
			f.logger.WarnContext(ctx, "transient fetch error, retrying",
				slog.String("endpoint", endpoint),
				slog.Int("attempt", transient),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
			if err := f.clock.Sleep(ctx, delay); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %w", domain.ErrFetchFailed, err)
		}
	}
}

// backoff returns base * 2^(attempt-1) capped, plus up to 10% jitter.
func (f *Fetcher) backoff(attempt int) time.Duration {
	d := f.cfg.BackoffBase << (attempt - 1)
	if d <= 0 || d > f.cfg.BackoffCap {
		d = f.cfg.BackoffCap
	}
	return d + time.Duration(rand.Int64N(int64(d)/10+1))
}

// statusOf maps a call result to the HTTP status reported to the limiter.
// Errors without a response map to 0; a definitive not-found is a success.
func statusOf(err error) int {
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		return http.StatusOK
	}
	var apiErr *dmarket.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func classify(err error, status int) failure {
	switch {
	case err == nil:
		return failNone
	case status == http.StatusTooManyRequests:
		return failQuota
	case status == 0, status == http.StatusRequestTimeout, status >= 500:
		return failTransient
	default:
		return failPermanent
	}
}
