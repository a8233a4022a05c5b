package domain

import "time"

// ScanStatus is the lifecycle state of a scan checkpoint.
type ScanStatus string

const (
	ScanRunning   ScanStatus = "running"
	ScanPaused    ScanStatus = "paused"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

var scanTransitions = map[ScanStatus][]ScanStatus{
	ScanRunning: {ScanRunning, ScanPaused, ScanCompleted, ScanFailed},
	ScanPaused:  {ScanRunning},
}

// Terminal reports whether no transition may leave s.
func (s ScanStatus) Terminal() bool {
	return s == ScanCompleted || s == ScanFailed
}

// Valid reports whether s is a known status.
func (s ScanStatus) Valid() bool {
	switch s {
	case ScanRunning, ScanPaused, ScanCompleted, ScanFailed:
		return true
	}
	return false
}

// CanTransition reports whether a checkpoint may move from s to next.
func (s ScanStatus) CanTransition(next ScanStatus) bool {
	for _, allowed := range scanTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Checkpoint is the durable progress record of one scan. An empty Cursor
// means the scan starts from the first page.
type Checkpoint struct {
	ScanID         string
	UserID         string
	OperationType  string
	Cursor         string
	ProcessedItems int64
	TotalItems     *int64
	Status         ScanStatus
	Reason         string
	Metadata       map[string]string
	Timestamp      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CheckpointQuery filters checkpoint listings.
type CheckpointQuery struct {
	UserID        string
	Statuses      []ScanStatus
	UpdatedBefore *time.Time
	Limit         int
}
