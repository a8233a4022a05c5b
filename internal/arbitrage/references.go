package arbitrage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/skinbot/internal/clock"
	"github.com/alanyoungcy/skinbot/internal/domain"
)

// CachedReferences serves reference prices from a cache, falling back to
// src on a miss. Cache failures are logged and never fail the lookup.
type CachedReferences struct {
	src    ReferenceSource
	cache  domain.ReferencePriceCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedReferences wraps src with cache.
func NewCachedReferences(src ReferenceSource, cache domain.ReferencePriceCache, ttl time.Duration, logger *slog.Logger) *CachedReferences {
	return &CachedReferences{
		src:    src,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "reference_cache")),
	}
}

func (c *CachedReferences) ReferencePrice(ctx context.Context, game domain.Game, title string) (int64, error) {
	price, err := c.cache.Get(ctx, game, title)
	if err == nil {
		return price, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		c.logger.WarnContext(ctx, "reference cache read failed", slog.String("error", err.Error()))
	}

	price, err = c.src.ReferencePrice(ctx, game, title)
	if err != nil {
		return 0, err
	}
	if err := c.cache.Set(ctx, game, title, price, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "reference cache write failed", slog.String("error", err.Error()))
	}
	return price, nil
}

// MemoryPriceCache is a process-local ReferencePriceCache used when Redis is
// not configured.
type MemoryPriceCache struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]memoryPrice
}

type memoryPrice struct {
	price   int64
	expires time.Time
}

// NewMemoryPriceCache creates an empty cache. A nil clock uses the system clock.
func NewMemoryPriceCache(clk clock.Clock) *MemoryPriceCache {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemoryPriceCache{clock: clk, entries: make(map[string]memoryPrice)}
}

func (m *MemoryPriceCache) Get(_ context.Context, game domain.Game, title string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(game) + "|" + title
	e, ok := m.entries[key]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if !e.expires.IsZero() && !m.clock.Now().Before(e.expires) {
		delete(m.entries, key)
		return 0, domain.ErrNotFound
	}
	return e.price, nil
}

func (m *MemoryPriceCache) Set(_ context.Context, game domain.Game, title string, price int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryPrice{price: price}
	if ttl > 0 {
		e.expires = m.clock.Now().Add(ttl)
	}
	m.entries[string(game)+"|"+title] = e
	return nil
}
