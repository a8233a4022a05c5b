package checkpoint_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinbot/internal/checkpoint"
	"github.com/alanyoungcy/skinbot/internal/checkpoint/checkpointtest"
	"github.com/alanyoungcy/skinbot/internal/clock"
	"github.com/alanyoungcy/skinbot/internal/domain"
)

func newManager() (*checkpoint.Manager, *checkpoint.MemoryStore, *clock.Fake) {
	store := checkpoint.NewMemoryStore()
	fc := clock.NewFake(time.Time{})
	return checkpoint.NewManager(store, fc, slog.New(slog.NewTextHandler(io.Discard, nil))), store, fc
}

func TestMemoryStore(t *testing.T) {
	checkpointtest.RunStoreSuite(t, func(t *testing.T) domain.CheckpointStore {
		return checkpoint.NewMemoryStore()
	})
}

func TestManager_CreateThenLoad(t *testing.T) {
	m, _, _ := newManager()
	ctx := context.Background()

	_, err := m.Create(ctx, "scan-1", "user-1", "arbitrage", map[string]string{"game": "csgo"})
	require.NoError(t, err)

	cp, err := m.Load(ctx, "scan-1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, domain.ScanRunning, cp.Status)
	assert.Empty(t, cp.Cursor)
	assert.Zero(t, cp.ProcessedItems)
	assert.Equal(t, "csgo", cp.Metadata["game"])
}

func TestManager_CreateDuplicate(t *testing.T) {
	m, _, _ := newManager()
	ctx := context.Background()
	_, err := m.Create(ctx, "scan-1", "u", "op", nil)
	require.NoError(t, err)

	_, err = m.Create(ctx, "scan-1", "u", "op", nil)

	require.ErrorIs(t, err, domain.ErrDuplicateScan)
}

func TestManager_LoadMissingIsNil(t *testing.T) {
	m, _, _ := newManager()

	cp, err := m.Load(context.Background(), "nope")

	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestManager_UpdateProgress(t *testing.T) {
	m, _, fc := newManager()
	ctx := context.Background()
	_, err := m.Create(ctx, "s", "u", "op", nil)
	require.NoError(t, err)
	fc.Advance(time.Minute)

	total := int64(1000)
	cp, err := m.UpdateProgress(ctx, "s", "cursor-2", 100, &total)
	require.NoError(t, err)
	assert.Equal(t, "cursor-2", cp.Cursor)
	assert.Equal(t, fc.Now(), cp.Timestamp)

	t.Run("heartbeat with same count", func(t *testing.T) {
		_, err := m.UpdateProgress(ctx, "s", "cursor-2", 100, nil)
		require.NoError(t, err)
		loaded, err := m.Load(ctx, "s")
		require.NoError(t, err)
		require.NotNil(t, loaded.TotalItems, "nil total keeps the known total")
		assert.Equal(t, int64(1000), *loaded.TotalItems)
	})

	t.Run("processed items never decrease", func(t *testing.T) {
		_, err := m.UpdateProgress(ctx, "s", "cursor-1", 50, nil)
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("unknown scan", func(t *testing.T) {
		_, err := m.UpdateProgress(ctx, "nope", "", 0, nil)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("terminal scan", func(t *testing.T) {
		_, err := m.MarkCompleted(ctx, "s")
		require.NoError(t, err)
		_, err = m.UpdateProgress(ctx, "s", "cursor-3", 200, nil)
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestManager_TerminalStates(t *testing.T) {
	ctx := context.Background()

	t.Run("completed twice is a no-op", func(t *testing.T) {
		m, _, fc := newManager()
		_, err := m.Create(ctx, "s", "u", "op", nil)
		require.NoError(t, err)
		first, err := m.MarkCompleted(ctx, "s")
		require.NoError(t, err)
		fc.Advance(time.Hour)

		second, err := m.MarkCompleted(ctx, "s")

		require.NoError(t, err)
		assert.Equal(t, domain.ScanCompleted, second.Status)
		assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
	})

	t.Run("completed after failed", func(t *testing.T) {
		m, _, _ := newManager()
		_, err := m.Create(ctx, "s", "u", "op", nil)
		require.NoError(t, err)
		cp, err := m.MarkFailed(ctx, "s", "fetch failed")
		require.NoError(t, err)
		assert.Equal(t, "fetch failed", cp.Reason)

		_, err = m.MarkCompleted(ctx, "s")
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
		_, err = m.MarkFailed(ctx, "s", "again")
		require.NoError(t, err)
	})

	t.Run("failed after completed", func(t *testing.T) {
		m, _, _ := newManager()
		_, err := m.Create(ctx, "s", "u", "op", nil)
		require.NoError(t, err)
		_, err = m.MarkCompleted(ctx, "s")
		require.NoError(t, err)

		_, err = m.MarkFailed(ctx, "s", "late")
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
		_, err = m.Resume(ctx, "s")
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
		_, err = m.Pause(ctx, "s")
		require.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestManager_PauseResume(t *testing.T) {
	m, _, _ := newManager()
	ctx := context.Background()
	_, err := m.Create(ctx, "s", "u", "op", nil)
	require.NoError(t, err)

	cp, err := m.Pause(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, domain.ScanPaused, cp.Status)

	_, err = m.Pause(ctx, "s")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = m.MarkCompleted(ctx, "s")
	require.ErrorIs(t, err, domain.ErrInvalidTransition, "paused must resume before completing")
	_, err = m.MarkFailed(ctx, "s", "x")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = m.UpdateProgress(ctx, "s", "c", 1, nil)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	active, err := m.FindActive(ctx, "u", "op")
	require.NoError(t, err)
	assert.Nil(t, active, "a paused scan resumes only by scan id")

	cp, err = m.Resume(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, domain.ScanRunning, cp.Status)

	active, err = m.FindActive(ctx, "u", "op")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "s", active.ScanID)
}

func TestManager_Prune(t *testing.T) {
	m, _, fc := newManager()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_, err := m.Create(ctx, id, "u", "op", nil)
		require.NoError(t, err)
	}
	_, err := m.MarkCompleted(ctx, "a")
	require.NoError(t, err)
	_, err = m.MarkFailed(ctx, "b", "boom")
	require.NoError(t, err)
	fc.Advance(48 * time.Hour)

	var archived []string
	n, err := m.Prune(ctx, fc.Now().Add(-24*time.Hour), func(_ context.Context, batch []domain.Checkpoint) error {
		for _, cp := range batch {
			archived = append(archived, cp.ScanID)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.ElementsMatch(t, []string{"a", "b"}, archived)
	cp, err := m.Load(ctx, "c")
	require.NoError(t, err)
	assert.NotNil(t, cp, "running scans are kept")
}
