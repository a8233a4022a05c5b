package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

func TestClientKey(t *testing.T) {
	c := newClient(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"}), "")
	defer c.Close()

	assert.Equal(t, "skinbot:lock:scan:u1", c.Key("lock", "scan:u1"))

	custom := newClient(c.Underlying(), "staging")
	assert.Equal(t, "staging:opportunities", custom.Key("opportunities"))
}

func TestPriceCacheKeyIgnoresTitleCase(t *testing.T) {
	c := newClient(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"}), "skinbot")
	defer c.Close()
	pc := NewPriceCache(c)

	assert.Equal(t, pc.key(domain.GameCS2, "AK-47 | Redline"), pc.key(domain.GameCS2, "ak-47 | redline"))
	assert.NotEqual(t, pc.key(domain.GameCS2, "AK-47 | Redline"), pc.key(domain.GameRust, "AK-47 | Redline"))
}

func TestPayloadBytes(t *testing.T) {
	b, ok := payloadBytes("abc")
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), b)

	b, ok = payloadBytes([]byte("xyz"))
	assert.True(t, ok)
	assert.Equal(t, []byte("xyz"), b)

	_, ok = payloadBytes(42)
	assert.False(t, ok)
}

func TestLeaseRefreshUnreachableIsNotLockLoss(t *testing.T) {
	c := newClient(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0", MaxRetries: -1, DialTimeout: 100 * time.Millisecond}), "")
	defer c.Close()
	l := &lease{lm: NewLockManager(c), name: "scan:u1", key: c.Key("lock", "scan:u1"), token: "t1"}

	err := l.Refresh(context.Background(), time.Minute)

	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrLockHeld, "a transport failure must not read as a lost lease")
	assert.Contains(t, err.Error(), "refresh lock scan:u1")
}
