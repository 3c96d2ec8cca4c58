// Package checkpoint persists the progress of the current sync run so that
// an observer (or the scheduler after an abrupt restart) can tell whether a
// run was in flight and how far it got. It is informational: the ledger
// makes restarting from the top idempotent, so the checkpoint is never used
// as a resumption cursor.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const progressKey = "current_run"

// Checkpoint is written before each file transfer attempt and cleared when
// a run completes or terminally fails.
type Checkpoint struct {
	Window        string `json:"window"`
	TotalWindows  int    `json:"total_windows"`
	CurrentFile   string `json:"current_file"`
	FileIndex     int    `json:"file_index"`
	FilesInWindow int    `json:"files_in_window"`
	Uploaded      int    `json:"uploaded"`
	Skipped       int    `json:"skipped"`
	Failed        int    `json:"failed"`
}

// Store persists checkpoints in the sync_progress table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_progress (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, progressKey, data, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns nil (no error) when no run is in flight.
func (s *Store) Load(ctx context.Context) (*Checkpoint, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM sync_progress WHERE key = ?`, progressKey).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_progress WHERE key = ?`, progressKey)
	if err != nil {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}
