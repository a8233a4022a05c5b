package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

// PriceCache implements domain.ReferencePriceCache with one string key per
// game and title, expiring after the caller's TTL. Shared between workers
// so a title's reference price is fetched once per TTL across the fleet.
type PriceCache struct {
	c *Client
}

// NewPriceCache creates a PriceCache backed by c.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{c: c}
}

func (pc *PriceCache) key(game domain.Game, title string) string {
	return pc.c.Key("refprice", string(game), strings.ToLower(title))
}

// Get returns domain.ErrNotFound on a miss or expiry.
func (pc *PriceCache) Get(ctx context.Context, game domain.Game, title string) (int64, error) {
	raw, err := pc.c.rdb.Get(ctx, pc.key(game, title)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("redis: get reference price %s/%s: %w", game, title, err)
	}
	price, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse reference price %s/%s: %w", game, title, err)
	}
	return price, nil
}

func (pc *PriceCache) Set(ctx context.Context, game domain.Game, title string, price int64, ttl time.Duration) error {
	if err := pc.c.rdb.Set(ctx, pc.key(game, title), strconv.FormatInt(price, 10), ttl).Err(); err != nil {
		return fmt.Errorf("redis: set reference price %s/%s: %w", game, title, err)
	}
	return nil
}

var _ domain.ReferencePriceCache = (*PriceCache)(nil)
