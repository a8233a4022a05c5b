package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinbot/internal/checkpoint"
	"github.com/alanyoungcy/skinbot/internal/clock"
	"github.com/alanyoungcy/skinbot/internal/domain"
	"github.com/alanyoungcy/skinbot/internal/scanner"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestCronNext(t *testing.T) {
	base := time.Date(2025, 1, 1, 10, 30, 15, 0, time.UTC) // Wednesday
	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2025, 1, 1, 10, 31, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2025, 1, 1, 10, 45, 0, 0, time.UTC)},
		{"0 9-17 * * 1-5", time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			sched, err := parseCron(tt.expr)
			require.NoError(t, err)
			got, err := sched.next(base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCronErrors(t *testing.T) {
	for _, expr := range []string{"* * * *", "61 * * * *", "a * * * *", "*/0 * * * *", "5-1 * * * *"} {
		_, err := parseCron(expr)
		assert.Error(t, err, expr)
	}
}

type memOpps struct {
	opps    []domain.Opportunity
	deleted time.Time
}

func (m *memOpps) Insert(_ context.Context, opp domain.Opportunity) error {
	m.opps = append(m.opps, opp)
	return nil
}

func (m *memOpps) List(_ context.Context, q domain.OpportunityQuery) ([]domain.Opportunity, error) {
	var out []domain.Opportunity
	for _, o := range m.opps {
		if q.Until == nil || o.DetectedAt.Before(*q.Until) {
			out = append(out, o)
		}
	}
	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memOpps) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	m.deleted = before
	var kept []domain.Opportunity
	var n int64
	for _, o := range m.opps {
		if o.DetectedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, o)
	}
	m.opps = kept
	return n, nil
}

type memArchiver struct {
	checkpoints []domain.Checkpoint
	opps        []domain.Opportunity
	err         error
}

func (a *memArchiver) ArchiveCheckpoints(_ context.Context, b []domain.Checkpoint) error {
	if a.err != nil {
		return a.err
	}
	a.checkpoints = append(a.checkpoints, b...)
	return nil
}

func (a *memArchiver) ArchiveOpportunities(_ context.Context, b []domain.Opportunity) error {
	if a.err != nil {
		return a.err
	}
	a.opps = append(a.opps, b...)
	return nil
}

func seedHistory(t *testing.T) (*checkpoint.Manager, *memOpps, *clock.Fake) {
	t.Helper()
	ctx := context.Background()
	fc := clock.NewFake(time.Time{})
	m := checkpoint.NewManager(checkpoint.NewMemoryStore(), fc, testLogger())

	_, err := m.Create(ctx, "old-done", "u", "op", nil)
	require.NoError(t, err)
	_, err = m.MarkCompleted(ctx, "old-done")
	require.NoError(t, err)
	_, err = m.Create(ctx, "old-running", "u", "op2", nil)
	require.NoError(t, err)

	opps := &memOpps{opps: []domain.Opportunity{{ID: "o-old", DetectedAt: fc.Now()}}}

	fc.Advance(40 * 24 * time.Hour)
	opps.opps = append(opps.opps, domain.Opportunity{ID: "o-new", DetectedAt: fc.Now()})
	return m, opps, fc
}

func TestJanitorArchivesThenDeletes(t *testing.T) {
	m, opps, fc := seedHistory(t)
	arch := &memArchiver{}
	j := NewJanitor(m, opps, arch, 30*24*time.Hour, fc, testLogger())

	rep, err := j.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.Checkpoints)
	assert.Equal(t, int64(1), rep.Opportunities)
	require.Len(t, arch.checkpoints, 1)
	assert.Equal(t, "old-done", arch.checkpoints[0].ScanID)
	require.Len(t, arch.opps, 1)
	assert.Equal(t, "o-old", arch.opps[0].ID)

	running, err := m.Load(context.Background(), "old-running")
	require.NoError(t, err)
	assert.NotNil(t, running, "active scans are never pruned")
}

func TestJanitorKeepsDataWhenArchiveFails(t *testing.T) {
	m, opps, fc := seedHistory(t)
	j := NewJanitor(m, opps, &memArchiver{err: errors.New("s3 down")}, 30*24*time.Hour, fc, testLogger())

	_, err := j.Run(context.Background())

	require.Error(t, err)
	cp, lerr := m.Load(context.Background(), "old-done")
	require.NoError(t, lerr)
	assert.NotNil(t, cp)
	assert.Len(t, opps.opps, 2)
}

type countingPool struct {
	mu    sync.Mutex
	runs  int
	after func(n int)
}

func (p *countingPool) Run(context.Context, []scanner.Job, scanner.Sink) ([]scanner.Result, error) {
	p.mu.Lock()
	p.runs++
	n := p.runs
	p.mu.Unlock()
	if p.after != nil {
		p.after(n)
	}
	return []scanner.Result{{Status: domain.ScanCompleted}}, nil
}

func TestOrchestratorRepeatsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := &countingPool{after: func(n int) {
		if n == 3 {
			cancel()
		}
	}}
	o := NewOrchestrator(pool, func() ([]scanner.Job, error) { return nil, nil }, nil, nil,
		time.Millisecond, "", testLogger())

	err := o.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, 3, pool.runs)
}

func TestOrchestratorRunOnceJobError(t *testing.T) {
	o := NewOrchestrator(&countingPool{}, func() ([]scanner.Job, error) {
		return nil, errors.New("bad filter")
	}, nil, nil, time.Minute, "", testLogger())

	_, err := o.RunOnce(context.Background())

	require.ErrorContains(t, err, "bad filter")
}
