package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

const checkpointColumns = `scan_id, user_id, operation_type, cursor, processed_items, total_items,
	status, reason, metadata, ts, created_at, updated_at`

// CheckpointStore implements domain.CheckpointStore.
type CheckpointStore struct {
	db *sql.DB
}

// NewCheckpointStore creates a store over a database opened with Open.
func NewCheckpointStore(db *sql.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

func nullCursor(c string) sql.NullString {
	return sql.NullString{String: c, Valid: c != ""}
}

func nullTotal(t *int64) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *t, Valid: true}
}

func (s *CheckpointStore) Create(ctx context.Context, cp domain.Checkpoint) error {
	meta, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: marshal metadata: %w", err)
	}
	tag, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_checkpoints (`+checkpointColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (scan_id) DO NOTHING`,
		cp.ScanID, cp.UserID, cp.OperationType, nullCursor(cp.Cursor), cp.ProcessedItems,
		nullTotal(cp.TotalItems), string(cp.Status), cp.Reason, string(meta),
		cp.Timestamp.UnixNano(), cp.CreatedAt.UnixNano(), cp.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create checkpoint: %w", err)
	}
	if n, _ := tag.RowsAffected(); n == 0 {
		return domain.ErrDuplicateScan
	}
	return nil
}

func (s *CheckpointStore) Get(ctx context.Context, scanID string) (domain.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM scan_checkpoints WHERE scan_id = ?`, scanID)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Checkpoint{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("sqlite: get checkpoint: %w", err)
	}
	return cp, nil
}

func (s *CheckpointStore) Update(ctx context.Context, cp domain.Checkpoint, expected domain.ScanStatus) error {
	meta, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: marshal metadata: %w", err)
	}
	tag, err := s.db.ExecContext(ctx, `
		UPDATE scan_checkpoints
		SET cursor = ?, processed_items = ?, total_items = ?, status = ?, reason = ?,
		    metadata = ?, ts = ?, updated_at = ?
		WHERE scan_id = ? AND status = ?`,
		nullCursor(cp.Cursor), cp.ProcessedItems, nullTotal(cp.TotalItems), string(cp.Status),
		cp.Reason, string(meta), cp.Timestamp.UnixNano(), cp.UpdatedAt.UnixNano(),
		cp.ScanID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("sqlite: update checkpoint: %w", err)
	}
	if n, _ := tag.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, cp.ScanID); err != nil {
		return err
	}
	return domain.ErrStaleCheckpoint
}

func (s *CheckpointStore) FindActive(ctx context.Context, userID, operationType string) (domain.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+checkpointColumns+` FROM scan_checkpoints
		WHERE user_id = ? AND operation_type = ? AND status = ?
		ORDER BY updated_at DESC LIMIT 1`,
		userID, operationType, string(domain.ScanRunning))
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Checkpoint{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("sqlite: find active checkpoint: %w", err)
	}
	return cp, nil
}

func (s *CheckpointStore) List(ctx context.Context, q domain.CheckpointQuery) ([]domain.Checkpoint, error) {
	var (
		where []string
		args  []any
	)
	if q.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, q.UserID)
	}
	if len(q.Statuses) > 0 {
		marks := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if q.UpdatedBefore != nil {
		where = append(where, "updated_at < ?")
		args = append(args, q.UpdatedBefore.UnixNano())
	}
	query := `SELECT ` + checkpointColumns + ` FROM scan_checkpoints`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []domain.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (s *CheckpointStore) Delete(ctx context.Context, scanIDs []string) (int64, error) {
	if len(scanIDs) == 0 {
		return 0, nil
	}
	marks := make([]string, len(scanIDs))
	args := make([]any, len(scanIDs))
	for i, id := range scanIDs {
		marks[i] = "?"
		args[i] = id
	}
	tag, err := s.db.ExecContext(ctx,
		`DELETE FROM scan_checkpoints WHERE scan_id IN (`+strings.Join(marks, ", ")+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete checkpoints: %w", err)
	}
	return tag.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (domain.Checkpoint, error) {
	var (
		cp               domain.Checkpoint
		cursor           sql.NullString
		total            sql.NullInt64
		status, meta     string
		ts, created, upd int64
	)
	if err := row.Scan(&cp.ScanID, &cp.UserID, &cp.OperationType, &cursor, &cp.ProcessedItems,
		&total, &status, &cp.Reason, &meta, &ts, &created, &upd); err != nil {
		return domain.Checkpoint{}, err
	}
	cp.Cursor = cursor.String
	if total.Valid {
		t := total.Int64
		cp.TotalItems = &t
	}
	cp.Status = domain.ScanStatus(status)
	if err := json.Unmarshal([]byte(meta), &cp.Metadata); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("decode metadata: %w", err)
	}
	cp.Timestamp = time.Unix(0, ts).UTC()
	cp.CreatedAt = time.Unix(0, created).UTC()
	cp.UpdatedAt = time.Unix(0, upd).UTC()
	return cp, nil
}
