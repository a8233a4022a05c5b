// Package checkpoint drives the scan checkpoint state machine on top of a
// durable store:
//
//	running -> running | paused | completed | failed
//	paused  -> running
//
// completed and failed are terminal.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/alanyoungcy/skinbot/internal/clock"
	"github.com/alanyoungcy/skinbot/internal/domain"
)

// Manager applies checkpoint transitions.
type Manager struct {
	store  domain.CheckpointStore
	clock  clock.Clock
	logger *slog.Logger
}

// NewManager creates a manager over store. A nil clock uses the system clock.
func NewManager(store domain.CheckpointStore, clk clock.Clock, logger *slog.Logger) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{
		store:  store,
		clock:  clk,
		logger: logger.With(slog.String("component", "checkpoint")),
	}
}

// Create records a new running scan with an empty cursor.
func (m *Manager) Create(ctx context.Context, scanID, userID, operationType string, metadata map[string]string) (domain.Checkpoint, error) {
	if scanID == "" {
		return domain.Checkpoint{}, errors.New("checkpoint: create: empty scan id")
	}
	now := m.clock.Now()
	cp := domain.Checkpoint{
		ScanID:        scanID,
		UserID:        userID,
		OperationType: operationType,
		Status:        domain.ScanRunning,
		Metadata:      maps.Clone(metadata),
		Timestamp:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.Create(ctx, cp); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("checkpoint: create %s: %w", scanID, err)
	}
	m.logger.DebugContext(ctx, "checkpoint created", slog.String("scan_id", scanID))
	return cp, nil
}

// Load returns the checkpoint for scanID, or nil when none exists.
func (m *Manager) Load(ctx context.Context, scanID string) (*domain.Checkpoint, error) {
	cp, err := m.store.Get(ctx, scanID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load %s: %w", scanID, err)
	}
	return &cp, nil
}

// FindActive returns the latest running checkpoint for the user and
// operation type, or nil when none exists. A scan left running by a crashed
// process is found here; a paused one is not.
func (m *Manager) FindActive(ctx context.Context, userID, operationType string) (*domain.Checkpoint, error) {
	cp, err := m.store.FindActive(ctx, userID, operationType)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: find active %s/%s: %w", userID, operationType, err)
	}
	return &cp, nil
}

// List returns checkpoints matching q.
func (m *Manager) List(ctx context.Context, q domain.CheckpointQuery) ([]domain.Checkpoint, error) {
	cps, err := m.store.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list: %w", err)
	}
	return cps, nil
}

// UpdateProgress records a heartbeat on a running scan. processed must not
// be lower than the stored value.
func (m *Manager) UpdateProgress(ctx context.Context, scanID, cursor string, processed int64, total *int64) (domain.Checkpoint, error) {
	return m.apply(ctx, scanID, "update progress", func(cp *domain.Checkpoint) (bool, error) {
		if cp.Status != domain.ScanRunning {
			return false, fmt.Errorf("%w: cannot record progress on %s scan", domain.ErrInvalidTransition, cp.Status)
		}
		if processed < cp.ProcessedItems {
			return false, fmt.Errorf("%w: processed items would decrease from %d to %d",
				domain.ErrInvalidTransition, cp.ProcessedItems, processed)
		}
		cp.Cursor = cursor
		cp.ProcessedItems = processed
		if total != nil {
			t := *total
			cp.TotalItems = &t
		}
		return true, nil
	})
}

// MarkCompleted ends a running scan. Repeating it is a no-op.
func (m *Manager) MarkCompleted(ctx context.Context, scanID string) (domain.Checkpoint, error) {
	return m.terminate(ctx, scanID, domain.ScanCompleted, "")
}

// MarkFailed ends a running scan with reason. Repeating it is a no-op.
func (m *Manager) MarkFailed(ctx context.Context, scanID, reason string) (domain.Checkpoint, error) {
	return m.terminate(ctx, scanID, domain.ScanFailed, reason)
}

func (m *Manager) terminate(ctx context.Context, scanID string, to domain.ScanStatus, reason string) (domain.Checkpoint, error) {
	cp, err := m.apply(ctx, scanID, "mark "+string(to), func(cp *domain.Checkpoint) (bool, error) {
		if cp.Status == to {
			return false, nil
		}
		if err := checkTransition(cp.Status, to); err != nil {
			return false, err
		}
		cp.Status = to
		cp.Reason = reason
		return true, nil
	})
	if err == nil {
		m.logger.InfoContext(ctx, "checkpoint closed",
			slog.String("scan_id", scanID),
			slog.String("status", string(cp.Status)),
			slog.Int64("processed_items", cp.ProcessedItems),
		)
	}
	return cp, err
}

// Pause parks a running scan so it can be resumed later.
func (m *Manager) Pause(ctx context.Context, scanID string) (domain.Checkpoint, error) {
	return m.apply(ctx, scanID, "pause", func(cp *domain.Checkpoint) (bool, error) {
		if cp.Status != domain.ScanRunning {
			return false, fmt.Errorf("%w: cannot pause %s scan", domain.ErrInvalidTransition, cp.Status)
		}
		cp.Status = domain.ScanPaused
		return true, nil
	})
}

// Resume moves a paused scan back to running. Resuming a running scan is a
// no-op, which lets a restarted process pick up scans it left running.
func (m *Manager) Resume(ctx context.Context, scanID string) (domain.Checkpoint, error) {
	return m.apply(ctx, scanID, "resume", func(cp *domain.Checkpoint) (bool, error) {
		if cp.Status == domain.ScanRunning {
			return false, nil
		}
		if err := checkTransition(cp.Status, domain.ScanRunning); err != nil {
			return false, err
		}
		cp.Status = domain.ScanRunning
		cp.Reason = ""
		return true, nil
	})
}

func checkTransition(from, to domain.ScanStatus) error {
	if from.CanTransition(to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
}

// apply loads scanID, lets mutate change it and writes it back conditioned
// on the status read. mutate returns false to skip the write.
func (m *Manager) apply(ctx context.Context, scanID, op string, mutate func(*domain.Checkpoint) (bool, error)) (domain.Checkpoint, error) {
	cp, err := m.store.Get(ctx, scanID)
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("checkpoint: %s %s: %w", op, scanID, err)
	}
	prev := cp.Status
	changed, err := mutate(&cp)
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("checkpoint: %s %s: %w", op, scanID, err)
	}
	if !changed {
		return cp, nil
	}
	now := m.clock.Now()
	cp.Timestamp = now
	cp.UpdatedAt = now
	if err := m.store.Update(ctx, cp, prev); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("checkpoint: %s %s: %w", op, scanID, err)
	}
	return cp, nil
}

// Prune removes terminal checkpoints last updated before cutoff. When
// archive is non-nil each batch is handed to it first and only deleted
// once archived.
func (m *Manager) Prune(ctx context.Context, before time.Time, archive func(context.Context, []domain.Checkpoint) error) (int64, error) {
	const batchSize = 500
	var total int64
	for {
		batch, err := m.store.List(ctx, domain.CheckpointQuery{
			Statuses:      []domain.ScanStatus{domain.ScanCompleted, domain.ScanFailed},
			UpdatedBefore: &before,
			Limit:         batchSize,
		})
		if err != nil {
			return total, fmt.Errorf("checkpoint: prune: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}
		if archive != nil {
			if err := archive(ctx, batch); err != nil {
				return total, fmt.Errorf("checkpoint: prune: archive: %w", err)
			}
		}
		ids := make([]string, len(batch))
		for i, cp := range batch {
			ids[i] = cp.ScanID
		}
		n, err := m.store.Delete(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("checkpoint: prune: delete: %w", err)
		}
		total += n
		if len(batch) < batchSize || n == 0 {
			return total, nil
		}
	}
}
