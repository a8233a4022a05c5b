package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinbot/internal/config"
	"github.com/alanyoungcy/skinbot/internal/domain"
	"github.com/alanyoungcy/skinbot/internal/filter"
	"github.com/alanyoungcy/skinbot/internal/scanner"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func memoryConfig(mode string) *config.Config {
	cfg := config.Defaults()
	cfg.Mode = mode
	cfg.Checkpoint.Backend = "memory"
	return &cfg
}

func TestBuildJobs(t *testing.T) {
	scans := []config.ScanConfig{
		{UserID: "u1", Game: "csgo", Filter: map[string]any{"min_price": int64(100)}},
		{UserID: "u2", Game: "rust", OperationType: "resell", MinProfitPercent: 25, MaxItems: 500},
	}

	jobs, err := buildJobs(scans, 10, 5, 1000, filter.DefaultRegistry())

	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "arbitrage:csgo", jobs[0].OperationType)
	assert.Equal(t, domain.GameCS2, jobs[0].Filter.Game())
	assert.Equal(t, 10.0, jobs[0].MinProfitPercent)
	assert.Equal(t, int64(1000), jobs[0].MaxItems)
	assert.Equal(t, "resell", jobs[1].OperationType)
	assert.Equal(t, 25.0, jobs[1].MinProfitPercent)
	assert.Equal(t, int64(500), jobs[1].MaxItems)
	assert.Equal(t, 5.0, jobs[1].FeePercent)
}

func TestBuildJobs_GamesOfOneUserGetSeparateOperations(t *testing.T) {
	scans := []config.ScanConfig{
		{UserID: "u1", Game: "csgo"},
		{UserID: "u1", Game: "dota2"},
	}

	jobs, err := buildJobs(scans, 10, 5, 0, filter.DefaultRegistry())

	require.NoError(t, err)
	assert.Equal(t, "arbitrage:csgo", jobs[0].OperationType)
	assert.Equal(t, "arbitrage:dota2", jobs[1].OperationType)
}

func TestBuildJobs_Errors(t *testing.T) {
	tests := []struct {
		name string
		scan config.ScanConfig
		want error
	}{
		{"unknown game", config.ScanConfig{UserID: "u", Game: "chess"}, domain.ErrUnknownGame},
		{"bad filter", config.ScanConfig{UserID: "u", Game: "csgo", Filter: map[string]any{"min_price": "cheap"}}, domain.ErrInvalidFilter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildJobs([]config.ScanConfig{tt.scan}, 10, 5, 0, filter.DefaultRegistry())

			require.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "scans[0]")
		})
	}
}

func TestWire_MemoryBackend(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), memoryConfig("serve"), discardLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Checkpoints)
	assert.Nil(t, deps.OpportunityStore)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.Notifier, "no senders configured")
	assert.Empty(t, deps.HealthChecks)
}

func TestWire_SQLiteBackend(t *testing.T) {
	cfg := memoryConfig("serve")
	cfg.Checkpoint.Backend = "sqlite"
	cfg.Checkpoint.SQLitePath = t.TempDir() + "/skinbot.db"

	deps, cleanup, err := Wire(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	require.Contains(t, deps.HealthChecks, "sqlite")
	assert.NoError(t, deps.HealthChecks["sqlite"](context.Background()))
}

func TestBuildSink_SkipsMissingBackends(t *testing.T) {
	a := New(memoryConfig("scan"), discardLogger())
	var got []domain.Opportunity
	extra := scanner.SinkFunc(func(_ context.Context, o domain.Opportunity) error {
		got = append(got, o)
		return nil
	})

	sink := a.buildSink(&Dependencies{}, extra)

	require.NoError(t, sink.Emit(context.Background(), domain.Opportunity{ID: "o1"}))
	assert.Len(t, got, 1)
	assert.Len(t, sink.(scanner.FanOut), 1)
}

func TestRun_CleanupMode(t *testing.T) {
	a := New(memoryConfig("cleanup"), discardLogger())
	defer a.Close()

	err := a.Run(context.Background())

	require.NoError(t, err)
}

func TestRun_ScanModeRequiresKey(t *testing.T) {
	a := New(memoryConfig("scan"), discardLogger())
	defer a.Close()

	err := a.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "marketplace key")
}

func TestRun_ServeModeStopsOnCancel(t *testing.T) {
	cfg := memoryConfig("serve")
	cfg.Server.Port = 0
	a := New(cfg, discardLogger())
	defer a.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := a.Run(ctx)

	assert.NoError(t, err)
}
