// Package store is the server's index of backed-up files, keyed by content
// hash. It answers the dedup queries and records one row per stored file.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned by Record when the content hash is already
// indexed. Callers treat it as "nothing to do", not as a failure.
var ErrDuplicate = errors.New("file already backed up")

// File is one indexed backup.
type File struct {
	ContentHash  string
	StoragePath  string
	OriginalPath string
	OriginalName string
	Size         int64
	MimeType     string
	Source       string
	DeviceName   string
	TakenAt      time.Time
	BackedUpAt   time.Time
}

// Stats summarizes the index.
type Stats struct {
	TotalFiles  int
	TotalSize   int64
	FirstBackup time.Time
	LastBackup  time.Time
}

type Repository interface {
	// Exists reports whether the hash is already indexed.
	Exists(ctx context.Context, hash string) (bool, error)
	// ExistingOf returns the subset of hashes that are indexed.
	ExistingOf(ctx context.Context, hashes []string) (map[string]struct{}, error)
	// Record indexes a newly stored file. Returns ErrDuplicate when the
	// hash is already present.
	Record(ctx context.Context, f *File) error
	// AllHashes returns every indexed content hash.
	AllHashes(ctx context.Context) ([]string, error)
	// Stats summarizes the index.
	Stats(ctx context.Context) (*Stats, error)
}
