package domain

import (
	"context"
	"time"
)

// ReferencePriceCache keeps recently fetched reference prices per game and title.
type ReferencePriceCache interface {
	Get(ctx context.Context, game Game, title string) (int64, error)
	Set(ctx context.Context, game Game, title string, price int64, ttl time.Duration) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Lock is a held lease returned by LockManager.Acquire.
type Lock interface {
	// Refresh pushes the lease expiry to ttl from now. It returns
	// ErrLockHeld once the lease has lapsed.
	Refresh(ctx context.Context, ttl time.Duration) error
	// Release gives the lease up. It is idempotent.
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
