package checkpoint

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

// MemoryStore is a process-local CheckpointStore. Records do not survive a
// restart, so it suits tests and one-shot scans only.
type MemoryStore struct {
	mu  sync.Mutex
	cps map[string]domain.Checkpoint
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cps: make(map[string]domain.Checkpoint)}
}

func clone(cp domain.Checkpoint) domain.Checkpoint {
	cp.Metadata = maps.Clone(cp.Metadata)
	if cp.TotalItems != nil {
		t := *cp.TotalItems
		cp.TotalItems = &t
	}
	return cp
}

func (s *MemoryStore) Create(_ context.Context, cp domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cps[cp.ScanID]; ok {
		return domain.ErrDuplicateScan
	}
	s.cps[cp.ScanID] = clone(cp)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, scanID string) (domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.cps[scanID]
	if !ok {
		return domain.Checkpoint{}, domain.ErrNotFound
	}
	return clone(cp), nil
}

func (s *MemoryStore) Update(_ context.Context, cp domain.Checkpoint, expected domain.ScanStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.cps[cp.ScanID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != expected {
		return domain.ErrStaleCheckpoint
	}
	cp.CreatedAt = cur.CreatedAt
	s.cps[cp.ScanID] = clone(cp)
	return nil
}

func (s *MemoryStore) FindActive(_ context.Context, userID, operationType string) (domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.Checkpoint
	for _, cp := range s.cps {
		if cp.UserID != userID || cp.OperationType != operationType {
			continue
		}
		if cp.Status != domain.ScanRunning {
			continue
		}
		if best == nil || cp.UpdatedAt.After(best.UpdatedAt) {
			c := cp
			best = &c
		}
	}
	if best == nil {
		return domain.Checkpoint{}, domain.ErrNotFound
	}
	return clone(*best), nil
}

func (s *MemoryStore) List(_ context.Context, q domain.CheckpointQuery) ([]domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Checkpoint
	for _, cp := range s.cps {
		if q.UserID != "" && cp.UserID != q.UserID {
			continue
		}
		if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, cp.Status) {
			continue
		}
		if q.UpdatedBefore != nil && !cp.UpdatedAt.Before(*q.UpdatedBefore) {
			continue
		}
		out = append(out, clone(cp))
	}
	slices.SortFunc(out, func(a, b domain.Checkpoint) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, scanIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range scanIDs {
		if _, ok := s.cps[id]; ok {
			delete(s.cps, id)
			n++
		}
	}
	return n, nil
}
