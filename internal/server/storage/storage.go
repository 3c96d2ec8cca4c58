// Package storage writes uploaded files into the canonical on-disk layout:
//
//	{Folder}/{yyyy}/{mm}/{filename}
//
// where Folder is Photos or Videos for camera uploads (by MIME type) and a
// dedicated folder for messenger and download sources. Name collisions get
// a numeric suffix; distinct content is never overwritten.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dmitrijs2005/photosync/internal/media"
)

// ErrHashMismatch means the uploaded bytes do not hash to the declared
// content hash. The file is discarded.
var ErrHashMismatch = errors.New("content hash mismatch")

var sourceFolders = map[media.Source]string{
	media.SourceWhatsApp:  "WhatsApp",
	media.SourceWeChat:    "WeChat",
	media.SourceDownloads: "Downloads",
}

var unsafeChars = regexp.MustCompile(`[^\w\-. ]`)

// Info summarizes what is on disk.
type Info struct {
	Path       string
	TotalFiles int
	TotalSize  int64
}

type Storage struct {
	root string
}

func New(root string) (*Storage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Storage{root: abs}, nil
}

func (s *Storage) Root() string { return s.root }

// RelativePath computes the destination for an upload and resolves name
// collisions against the current disk state. A zero takenAt falls back to
// now so undated files still land in a month folder.
func (s *Storage) RelativePath(filename, mimeType string, takenAt time.Time, source media.Source) string {
	if takenAt.IsZero() {
		takenAt = time.Now()
	}

	dir := filepath.Join(mediaFolder(mimeType, source),
		fmt.Sprintf("%04d", takenAt.Year()), fmt.Sprintf("%02d", int(takenAt.Month())))
	name := sanitizeFilename(filename)

	rel := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(filepath.Join(s.root, rel)); os.IsNotExist(err) {
			return rel
		}
		rel = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
	}
}

// SaveStream spools r into a temporary file next to the destination while
// hashing it, verifies the declared hash and renames the file into place.
// Nothing with a wrong hash ever becomes visible under the layout.
func (s *Storage) SaveStream(relPath, expectedHash string, r io.Reader) (int64, error) {
	dest := filepath.Join(s.root, relPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create destination dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		return 0, fmt.Errorf("failed to write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}

	if got := hex.EncodeToString(hasher.Sum(nil)); got != expectedHash {
		return 0, fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, expectedHash, got)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("failed to move upload into place: %w", err)
	}
	return written, nil
}

// Info walks the layout, skipping dotfiles (the credential files live in
// the root).
func (s *Storage) Info() (*Info, error) {
	info := &Info{Path: s.root}
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		info.TotalFiles++
		info.TotalSize += fi.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk storage: %w", err)
	}
	return info, nil
}

// FormatSize renders a byte count for humans.
func FormatSize(size int64) string {
	v := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if v < 1024 {
			return fmt.Sprintf("%.2f %s", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.2f PB", v)
}

func mediaFolder(mimeType string, source media.Source) string {
	if folder, ok := sourceFolders[source]; ok {
		return folder
	}
	switch media.KindFromMime(mimeType) {
	case media.KindImage:
		return "Photos"
	case media.KindVideo:
		return "Videos"
	default:
		return "Other"
	}
}

func sanitizeFilename(name string) string {
	safe := unsafeChars.ReplaceAllString(name, "_")
	safe = strings.Trim(safe, ". ")
	if safe == "" {
		return "unnamed"
	}
	return safe
}
