package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinbot/internal/checkpoint/checkpointtest"
	"github.com/alanyoungcy/skinbot/internal/domain"
	"github.com/alanyoungcy/skinbot/internal/store/sqlite"
)

func openStore(t *testing.T, path string) *sqlite.CheckpointStore {
	t.Helper()
	db, err := sqlite.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlite.NewCheckpointStore(db)
}

func TestCheckpointStore(t *testing.T) {
	checkpointtest.RunStoreSuite(t, func(t *testing.T) domain.CheckpointStore {
		return openStore(t, filepath.Join(t.TempDir(), "checkpoints.db"))
	})
}

func TestCheckpointStore_SurvivesReopen(t *testing.T) {
	// Arrange
	path := filepath.Join(t.TempDir(), "nested", "checkpoints.db")
	ctx := context.Background()
	db, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	s := sqlite.NewCheckpointStore(db)
	cp := domain.Checkpoint{ScanID: "s1", UserID: "u", OperationType: "op", Status: domain.ScanRunning, Cursor: "page-7", ProcessedItems: 700}
	require.NoError(t, s.Create(ctx, cp))
	require.NoError(t, db.Close())

	// Act
	got, err := openStore(t, path).Get(ctx, "s1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "page-7", got.Cursor)
	assert.Equal(t, int64(700), got.ProcessedItems)
}
