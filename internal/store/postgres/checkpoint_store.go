package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

// CheckpointStore implements domain.CheckpointStore using PostgreSQL.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore creates a store backed by pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

const checkpointCols = `scan_id, user_id, operation_type, COALESCE(cursor, ''), processed_items,
	total_items, status, reason, metadata, ts, created_at, updated_at`

func (s *CheckpointStore) Create(ctx context.Context, cp domain.Checkpoint) error {
	meta, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal checkpoint metadata: %w", err)
	}
	const query = `
		INSERT INTO scan_checkpoints (
			scan_id, user_id, operation_type, cursor, processed_items, total_items,
			status, reason, metadata, ts, created_at, updated_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (scan_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		cp.ScanID, cp.UserID, cp.OperationType, cp.Cursor, cp.ProcessedItems, cp.TotalItems,
		string(cp.Status), cp.Reason, meta, cp.Timestamp, cp.CreatedAt, cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create checkpoint %s: %w", cp.ScanID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateScan
	}
	return nil
}

func (s *CheckpointStore) Get(ctx context.Context, scanID string) (domain.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+checkpointCols+` FROM scan_checkpoints WHERE scan_id = $1`, scanID)
	cp, err := scanCheckpoint(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Checkpoint{}, domain.ErrNotFound
		}
		return domain.Checkpoint{}, fmt.Errorf("postgres: get checkpoint %s: %w", scanID, err)
	}
	return cp, nil
}

func (s *CheckpointStore) Update(ctx context.Context, cp domain.Checkpoint, expected domain.ScanStatus) error {
	meta, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal checkpoint metadata: %w", err)
	}
	const query = `
		UPDATE scan_checkpoints SET
			cursor          = NULLIF($2, ''),
			processed_items = $3,
			total_items     = $4,
			status          = $5,
			reason          = $6,
			metadata        = $7,
			ts              = $8,
			updated_at      = $9
		WHERE scan_id = $1 AND status = $10`

	tag, err := s.pool.Exec(ctx, query,
		cp.ScanID, cp.Cursor, cp.ProcessedItems, cp.TotalItems, string(cp.Status),
		cp.Reason, meta, cp.Timestamp, cp.UpdatedAt, string(expected),
	)
	if err != nil {
		return fmt.Errorf("postgres: update checkpoint %s: %w", cp.ScanID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.Get(ctx, cp.ScanID); err != nil {
		return err
	}
	return domain.ErrStaleCheckpoint
}

func (s *CheckpointStore) FindActive(ctx context.Context, userID, operationType string) (domain.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+checkpointCols+` FROM scan_checkpoints
		WHERE user_id = $1 AND operation_type = $2 AND status = 'running'
		ORDER BY updated_at DESC
		LIMIT 1`, userID, operationType)
	cp, err := scanCheckpoint(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Checkpoint{}, domain.ErrNotFound
		}
		return domain.Checkpoint{}, fmt.Errorf("postgres: find active checkpoint: %w", err)
	}
	return cp, nil
}

func (s *CheckpointStore) List(ctx context.Context, q domain.CheckpointQuery) ([]domain.Checkpoint, error) {
	var w whereClause
	if q.UserID != "" {
		w.add("user_id = $%d", q.UserID)
	}
	if len(q.Statuses) > 0 {
		statuses := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			statuses[i] = string(st)
		}
		w.add("status = ANY($%d)", statuses)
	}
	if q.UpdatedBefore != nil {
		w.add("updated_at < $%d", *q.UpdatedBefore)
	}
	query := `SELECT ` + checkpointCols + ` FROM scan_checkpoints` + w.String() + ` ORDER BY updated_at DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", w.next(q.Limit))
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []domain.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list checkpoints rows: %w", err)
	}
	return out, nil
}

func (s *CheckpointStore) Delete(ctx context.Context, scanIDs []string) (int64, error) {
	if len(scanIDs) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM scan_checkpoints WHERE scan_id = ANY($1)`, scanIDs)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete checkpoints: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanCheckpoint(row pgx.Row) (domain.Checkpoint, error) {
	var (
		cp     domain.Checkpoint
		status string
		meta   []byte
	)
	if err := row.Scan(&cp.ScanID, &cp.UserID, &cp.OperationType, &cp.Cursor, &cp.ProcessedItems,
		&cp.TotalItems, &status, &cp.Reason, &meta, &cp.Timestamp, &cp.CreatedAt, &cp.UpdatedAt); err != nil {
		return domain.Checkpoint{}, err
	}
	cp.Status = domain.ScanStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &cp.Metadata); err != nil {
			return domain.Checkpoint{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return cp, nil
}
