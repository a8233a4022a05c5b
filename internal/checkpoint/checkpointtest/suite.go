// Package checkpointtest holds behaviour tests shared by every
// domain.CheckpointStore implementation.
package checkpointtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(id, user, op string, status domain.ScanStatus, updated time.Time) domain.Checkpoint {
	return domain.Checkpoint{
		ScanID:        id,
		UserID:        user,
		OperationType: op,
		Status:        status,
		Metadata:      map[string]string{"game": "csgo"},
		Timestamp:     updated,
		CreatedAt:     updated,
		UpdatedAt:     updated,
	}
}

// RunStoreSuite exercises newStore against the CheckpointStore contract.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) domain.CheckpointStore) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, sample("s1", "u1", "scan", domain.ScanRunning, epoch)))

		got, err := s.Get(ctx, "s1")

		require.NoError(t, err)
		assert.Equal(t, "u1", got.UserID)
		assert.Equal(t, domain.ScanRunning, got.Status)
		assert.Empty(t, got.Cursor)
		assert.Zero(t, got.ProcessedItems)
		assert.Nil(t, got.TotalItems)
		assert.Equal(t, "csgo", got.Metadata["game"])
		assert.True(t, got.CreatedAt.Equal(epoch))
	})

	t.Run("duplicate scan id", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, sample("s1", "u1", "scan", domain.ScanRunning, epoch)))

		err := s.Create(ctx, sample("s1", "u2", "other", domain.ScanRunning, epoch))

		require.ErrorIs(t, err, domain.ErrDuplicateScan)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := newStore(t).Get(ctx, "nope")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("conditional update", func(t *testing.T) {
		s := newStore(t)
		cp := sample("s1", "u1", "scan", domain.ScanRunning, epoch)
		require.NoError(t, s.Create(ctx, cp))

		total := int64(500)
		cp.Cursor = "page-2"
		cp.ProcessedItems = 100
		cp.TotalItems = &total
		cp.UpdatedAt = epoch.Add(time.Minute)
		require.NoError(t, s.Update(ctx, cp, domain.ScanRunning))

		got, err := s.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "page-2", got.Cursor)
		assert.Equal(t, int64(100), got.ProcessedItems)
		require.NotNil(t, got.TotalItems)
		assert.Equal(t, int64(500), *got.TotalItems)

		cp.Status = domain.ScanCompleted
		err = s.Update(ctx, cp, domain.ScanPaused)
		require.ErrorIs(t, err, domain.ErrStaleCheckpoint)

		cp.ScanID = "missing"
		err = s.Update(ctx, cp, domain.ScanRunning)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("find active returns latest running and skips paused", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, sample("old", "u1", "scan", domain.ScanRunning, epoch)))
		require.NoError(t, s.Create(ctx, sample("paused", "u1", "scan", domain.ScanPaused, epoch.Add(time.Hour))))
		require.NoError(t, s.Create(ctx, sample("done", "u1", "scan", domain.ScanCompleted, epoch.Add(2*time.Hour))))
		require.NoError(t, s.Create(ctx, sample("other-op", "u1", "other", domain.ScanRunning, epoch.Add(3*time.Hour))))
		require.NoError(t, s.Create(ctx, sample("other-user", "u2", "scan", domain.ScanRunning, epoch.Add(3*time.Hour))))

		got, err := s.FindActive(ctx, "u1", "scan")
		require.NoError(t, err)
		assert.Equal(t, "old", got.ScanID)

		_, err = s.FindActive(ctx, "u1", "other")
		require.NoError(t, err)
		require.NoError(t, s.Create(ctx, sample("only-paused", "u4", "scan", domain.ScanPaused, epoch)))
		_, err = s.FindActive(ctx, "u4", "scan")
		require.ErrorIs(t, err, domain.ErrNotFound)

		_, err = s.FindActive(ctx, "u3", "scan")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("list and delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, sample("a", "u1", "scan", domain.ScanCompleted, epoch)))
		require.NoError(t, s.Create(ctx, sample("b", "u1", "scan", domain.ScanFailed, epoch.Add(time.Hour))))
		require.NoError(t, s.Create(ctx, sample("c", "u1", "scan", domain.ScanRunning, epoch.Add(2*time.Hour))))
		require.NoError(t, s.Create(ctx, sample("d", "u2", "scan", domain.ScanCompleted, epoch.Add(3*time.Hour))))

		cutoff := epoch.Add(150 * time.Minute)
		terminal, err := s.List(ctx, domain.CheckpointQuery{
			Statuses:      []domain.ScanStatus{domain.ScanCompleted, domain.ScanFailed},
			UpdatedBefore: &cutoff,
		})
		require.NoError(t, err)
		require.Len(t, terminal, 2)
		assert.Equal(t, "b", terminal[0].ScanID, "newest first")

		byUser, err := s.List(ctx, domain.CheckpointQuery{UserID: "u2"})
		require.NoError(t, err)
		require.Len(t, byUser, 1)

		limited, err := s.List(ctx, domain.CheckpointQuery{Limit: 3})
		require.NoError(t, err)
		assert.Len(t, limited, 3)

		n, err := s.Delete(ctx, []string{"a", "b", "missing"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		_, err = s.Get(ctx, "a")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}
