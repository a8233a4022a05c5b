package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// CheckpointStore persists scan checkpoints. ScanID is unique.
type CheckpointStore interface {
	// Create fails with ErrDuplicateScan when the scan id exists.
	Create(ctx context.Context, cp Checkpoint) error
	Get(ctx context.Context, scanID string) (Checkpoint, error)
	// Update overwrites the record only while its stored status equals
	// expected; otherwise it fails with ErrStaleCheckpoint.
	Update(ctx context.Context, cp Checkpoint, expected ScanStatus) error
	// FindActive returns the most recently updated running checkpoint for
	// the user and operation type. Paused checkpoints are never returned:
	// they resume only by scan id.
	FindActive(ctx context.Context, userID, operationType string) (Checkpoint, error)
	List(ctx context.Context, q CheckpointQuery) ([]Checkpoint, error)
	Delete(ctx context.Context, scanIDs []string) (int64, error)
}

// OpportunityQuery filters opportunity history.
type OpportunityQuery struct {
	ListOpts
	Game   Game
	ScanID string
}

// OpportunityStore persists detected opportunities.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	List(ctx context.Context, q OpportunityQuery) ([]Opportunity, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
