// Package ledger is the durable local record of which content hashes have
// been confirmed stored server-side. The content hash is the true identity
// of a file; the device-native id is a secondary index that lets scans skip
// re-hashing files that are already backed up.
package ledger

import (
	"context"
	"time"
)

// Status of a ledger entry.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Entry records one confirmed (or attempted) upload.
type Entry struct {
	NativeID    string
	ContentHash string
	Size        int64
	MimeType    string
	TakenAt     time.Time
	ModifiedAt  time.Time
	CompletedAt time.Time
	StoragePath string
	Status      Status
}

// Repository is the Local Ledger contract. All reads reflect the most
// recent write; the scheduler relies on that within a single run.
type Repository interface {
	// IsCompletedHash reports whether a completed entry exists for the hash.
	IsCompletedHash(ctx context.Context, hash string) (bool, error)

	// IsCompletedNativeID reports whether a completed entry exists for the
	// device-native id.
	IsCompletedNativeID(ctx context.Context, nativeID string) (bool, error)

	// RecordCompleted upserts a completed entry keyed by content hash.
	// Re-recording the same hash overwrites rather than duplicates.
	RecordCompleted(ctx context.Context, e *Entry) error

	// CountCompleted returns the number of completed entries.
	CountCompleted(ctx context.Context) (int, error)

	// CountPending returns the number of pending entries.
	CountPending(ctx context.Context) (int, error)

	// PruneFailed removes entries whose status is failed.
	PruneFailed(ctx context.Context) (int, error)
}
