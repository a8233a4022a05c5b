// Package ratelimit throttles outbound marketplace calls per endpoint and
// backs off exponentially when the remote reports its quota exceeded.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/skinbot/internal/clock"
	"github.com/alanyoungcy/skinbot/internal/domain"
)

// Config controls the per-endpoint budget and the quota backoff curve.
type Config struct {
	PerMinute   int
	Burst       int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// MaxWait bounds a single Acquire. Zero waits until ctx is done.
	MaxWait time.Duration
}

// DefaultConfig matches a 60 requests/minute marketplace quota.
func DefaultConfig() Config {
	return Config{
		PerMinute:   60,
		Burst:       5,
		BackoffBase: time.Second,
		BackoffCap:  60 * time.Second,
		MaxWait:     2 * time.Minute,
	}
}

// Stats is a point-in-time view of one endpoint's budget.
type Stats struct {
	Endpoint         string        `json:"endpoint"`
	Tokens           float64       `json:"tokens"`
	Consecutive429s  int           `json:"consecutive_429s"`
	BackoffRemaining time.Duration `json:"backoff_remaining"`
}

type bucket struct {
	lim          *rate.Limiter
	mu           sync.Mutex
	consecutive  int
	backoffUntil time.Time
}

// Limiter owns the request budget of every endpoint it has seen. It is safe
// for concurrent use by many scans.
type Limiter struct {
	cfg       Config
	clock     clock.Clock
	jitter    func(time.Duration) time.Duration
	onBackoff func(endpoint string, d time.Duration)

	mu      sync.Mutex
	buckets map[string]*bucket
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option { return func(l *Limiter) { l.clock = c } }

// WithJitter replaces the jitter function applied to each backoff delay.
// The function must not return less than its input.
func WithJitter(fn func(time.Duration) time.Duration) Option {
	return func(l *Limiter) { l.jitter = fn }
}

// WithBackoffHook registers a callback invoked whenever a backoff starts.
func WithBackoffHook(fn func(endpoint string, d time.Duration)) Option {
	return func(l *Limiter) { l.onBackoff = fn }
}

// New creates a Limiter. Zero config fields fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Limiter {
	def := DefaultConfig()
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = def.PerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		cfg.BackoffCap = max(def.BackoffCap, cfg.BackoffBase)
	}
	l := &Limiter{
		cfg:     cfg,
		clock:   clock.Real{},
		jitter:  addJitter,
		buckets: make(map[string]*bucket),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// addJitter adds up to 10% random jitter on top of d.
func addJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int64N(int64(d)/10+1))
}

func (l *Limiter) bucket(endpoint string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[endpoint]
	if !ok {
		every := time.Minute / time.Duration(l.cfg.PerMinute)
		b = &bucket{lim: rate.NewLimiter(rate.Every(every), l.cfg.Burst)}
		l.buckets[endpoint] = b
	}
	return b
}

// Acquire blocks until a request slot for endpoint is available, using the
// configured MaxWait as the timeout.
func (l *Limiter) Acquire(ctx context.Context, endpoint string) error {
	return l.AcquireWithin(ctx, endpoint, l.cfg.MaxWait)
}

// AcquireWithin blocks until a request slot for endpoint is available. It
// fails with ErrQuotaExceeded when the slot cannot be obtained within
// maxWait, and with the context error when ctx is done first.
func (l *Limiter) AcquireWithin(ctx context.Context, endpoint string, maxWait time.Duration) error {
	b := l.bucket(endpoint)
	start := l.clock.Now()
	var deadline time.Time
	if maxWait > 0 {
		deadline = start.Add(maxWait)
	}
	exceeds := func(at time.Time) bool { return !deadline.IsZero() && at.After(deadline) }

	for {
		now := l.clock.Now()
		b.mu.Lock()
		until := b.backoffUntil
		b.mu.Unlock()

		if until.After(now) {
			if exceeds(until) {
				return fmt.Errorf("ratelimit: acquire %s: backoff until %s exceeds max wait %s: %w",
					endpoint, until.Format(time.RFC3339), maxWait, domain.ErrQuotaExceeded)
			}
			if err := l.clock.Sleep(ctx, until.Sub(now)); err != nil {
				return fmt.Errorf("ratelimit: acquire %s: %w", endpoint, err)
			}
			continue
		}

		r := b.lim.ReserveN(now, 1)
		if !r.OK() {
			return fmt.Errorf("ratelimit: acquire %s: burst too small: %w", endpoint, domain.ErrQuotaExceeded)
		}
		delay := r.DelayFrom(now)
		if exceeds(now.Add(delay)) {
			r.CancelAt(now)
			return fmt.Errorf("ratelimit: acquire %s: wait %s exceeds max wait %s: %w",
				endpoint, delay, maxWait, domain.ErrQuotaExceeded)
		}
		if err := l.clock.Sleep(ctx, delay); err != nil {
			r.CancelAt(l.clock.Now())
			return fmt.Errorf("ratelimit: acquire %s: %w", endpoint, err)
		}

		// A quota response may have arrived while this caller held a reservation.
		b.mu.Lock()
		until = b.backoffUntil
		b.mu.Unlock()
		if !until.After(l.clock.Now()) {
			return nil
		}
	}
}

// RecordResponse informs the limiter of the HTTP status of a completed call.
// A 429 empties the endpoint's budget and starts an exponential backoff;
// any 2xx resets the backoff streak.
func (l *Limiter) RecordResponse(endpoint string, status int) {
	b := l.bucket(endpoint)
	now := l.clock.Now()

	switch {
	case status == http.StatusTooManyRequests:
		if tokens := int(b.lim.TokensAt(now)); tokens > 0 {
			b.lim.ReserveN(now, tokens)
		}
		b.mu.Lock()
		b.consecutive++
		d := l.jitter(l.backoff(b.consecutive))
		if until := now.Add(d); until.After(b.backoffUntil) {
			b.backoffUntil = until
		}
		b.mu.Unlock()
		if l.onBackoff != nil {
			l.onBackoff(endpoint, d)
		}
	case status >= 200 && status < 300:
		b.mu.Lock()
		b.consecutive = 0
		b.mu.Unlock()
	}
}

// backoff returns base * 2^(n-1) capped at BackoffCap.
func (l *Limiter) backoff(n int) time.Duration {
	d := l.cfg.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= l.cfg.BackoffCap {
			return l.cfg.BackoffCap
		}
	}
	return min(d, l.cfg.BackoffCap)
}

// Stats returns the current state of endpoint.
func (l *Limiter) Stats(endpoint string) Stats {
	b := l.bucket(endpoint)
	now := l.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	var remaining time.Duration
	if b.backoffUntil.After(now) {
		remaining = b.backoffUntil.Sub(now)
	}
	return Stats{
		Endpoint:         endpoint,
		Tokens:           b.lim.TokensAt(now),
		Consecutive429s:  b.consecutive,
		BackoffRemaining: remaining,
	}
}

// Endpoints returns stats for every endpoint seen so far, sorted by name.
func (l *Limiter) Endpoints() []Stats {
	l.mu.Lock()
	names := make([]string, 0, len(l.buckets))
	for name := range l.buckets {
		names = append(names, name)
	}
	l.mu.Unlock()
	slices.Sort(names)
	out := make([]Stats, 0, len(names))
	for _, n := range names {
		out = append(out, l.Stats(n))
	}
	return out
}
