package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLiteRepository implements Repository over the backed_up_files table.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Exists(ctx context.Context, hash string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM backed_up_files WHERE content_hash = ?`, hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check hash %s: %w", hash, err)
	}
	return true, nil
}

func (r *SQLiteRepository) ExistingOf(ctx context.Context, hashes []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(hashes) == 0 {
		return existing, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(hashes)), ",")
	args := make([]any, len(hashes))
	for i, h := range hashes {
		args[i] = h
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT content_hash FROM backed_up_files WHERE content_hash IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing hashes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("failed to scan hash: %w", err)
		}
		existing[h] = struct{}{}
	}
	return existing, rows.Err()
}

func (r *SQLiteRepository) Record(ctx context.Context, f *File) error {
	backedUpAt := f.BackedUpAt
	if backedUpAt.IsZero() {
		backedUpAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO backed_up_files
			(content_hash, storage_path, original_path, original_name,
			 file_size, mime_type, source, device_name, taken_at, backed_up_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ContentHash, f.StoragePath, f.OriginalPath, f.OriginalName,
		f.Size, f.MimeType, f.Source, f.DeviceName,
		f.TakenAt.UnixMilli(), backedUpAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to record file: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) AllHashes(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT content_hash FROM backed_up_files`)
	if err != nil {
		return nil, fmt.Errorf("failed to query hashes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("failed to scan hash: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func (r *SQLiteRepository) Stats(ctx context.Context) (*Stats, error) {
	var (
		count       int
		size, first sql.NullInt64
		last        sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(file_size), MIN(backed_up_at), MAX(backed_up_at)
		 FROM backed_up_files`).Scan(&count, &size, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}

	s := &Stats{TotalFiles: count, TotalSize: size.Int64}
	if first.Valid {
		s.FirstBackup = time.UnixMilli(first.Int64)
	}
	if last.Valid {
		s.LastBackup = time.UnixMilli(last.Int64)
	}
	return s, nil
}

// isUniqueViolation matches on the driver's message text; modernc/sqlite
// does not export a stable sentinel for constraint failures.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
