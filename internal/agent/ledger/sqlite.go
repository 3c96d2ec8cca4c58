package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteRepository implements Repository over the ledger_entries table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DB.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) IsCompletedHash(ctx context.Context, hash string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM ledger_entries WHERE content_hash = ? AND status = ?`,
		hash, StatusCompleted).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check hash %s: %w", hash, err)
	}
	return true, nil
}

func (r *SQLiteRepository) IsCompletedNativeID(ctx context.Context, nativeID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM ledger_entries WHERE native_id = ? AND status = ?`,
		nativeID, StatusCompleted).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check native id %s: %w", nativeID, err)
	}
	return true, nil
}

// RecordCompleted upserts by content hash, so at most one completed entry
// can exist per hash.
func (r *SQLiteRepository) RecordCompleted(ctx context.Context, e *Entry) error {
	completedAt := e.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	query := `INSERT INTO ledger_entries
			(content_hash, native_id, file_size, mime_type, taken_at, modified_at, completed_at, storage_path, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(content_hash) DO UPDATE SET
				native_id = excluded.native_id,
				file_size = excluded.file_size,
				mime_type = excluded.mime_type,
				taken_at = excluded.taken_at,
				modified_at = excluded.modified_at,
				completed_at = excluded.completed_at,
				storage_path = excluded.storage_path,
				status = excluded.status
	`
	_, err := r.db.ExecContext(ctx, query,
		e.ContentHash, e.NativeID, e.Size, e.MimeType,
		e.TakenAt.UnixMilli(), e.ModifiedAt.UnixMilli(), completedAt.UnixMilli(),
		e.StoragePath, StatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to upsert ledger entry: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CountCompleted(ctx context.Context) (int, error) {
	return r.countByStatus(ctx, StatusCompleted)
}

func (r *SQLiteRepository) CountPending(ctx context.Context) (int, error) {
	return r.countByStatus(ctx, StatusPending)
}

func (r *SQLiteRepository) countByStatus(ctx context.Context, status Status) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE status = ?`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s entries: %w", status, err)
	}
	return n, nil
}

func (r *SQLiteRepository) PruneFailed(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM ledger_entries WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to prune failed entries: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(ra), nil
}
