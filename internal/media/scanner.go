package media

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Scanner is the capability the scheduler needs from a media catalog:
// enumerate candidates of one source inside one window and open their
// contents for hashing and upload. Concrete scanners exist per platform;
// all of them are selected by the item's source tag.
type Scanner interface {
	// ListCandidates returns the items of source whose capture timestamp
	// falls inside the window.
	ListCandidates(ctx context.Context, source Source, window Window) ([]Item, error)

	// OldestItem returns the capture timestamp of the oldest known item of
	// the source. ok is false when the source has no items at all.
	OldestItem(ctx context.Context, source Source) (time.Time, bool, error)

	// Open returns the item's byte stream. The caller closes it.
	Open(item Item) (io.ReadCloser, error)
}

// FSScanner scans plain directory trees, one root per source. The capture
// timestamp is the file modification time; filesystem trees carry no
// richer metadata.
type FSScanner struct {
	roots map[Source]string
}

// NewFSScanner builds a scanner over the given per-source roots. Sources
// without a root are simply absent from scans.
func NewFSScanner(roots map[Source]string) *FSScanner {
	return &FSScanner{roots: roots}
}

func (s *FSScanner) ListCandidates(ctx context.Context, source Source, window Window) ([]Item, error) {
	root, ok := s.roots[source]
	if !ok {
		return nil, nil
	}

	var items []Item
	err := s.walk(ctx, source, root, func(item Item) {
		if window.Contains(item.TakenAt) {
			items = append(items, item)
		}
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *FSScanner) OldestItem(ctx context.Context, source Source) (time.Time, bool, error) {
	root, ok := s.roots[source]
	if !ok {
		return time.Time{}, false, nil
	}

	var oldest time.Time
	found := false
	err := s.walk(ctx, source, root, func(item Item) {
		if !found || item.TakenAt.Before(oldest) {
			oldest = item.TakenAt
			found = true
		}
	})
	if err != nil {
		return time.Time{}, false, err
	}
	return oldest, found, nil
}

func (s *FSScanner) Open(item Item) (io.ReadCloser, error) {
	f, err := os.Open(item.Path)
	if err != nil {
		return nil, fmt.Errorf("open media item %s: %w", item.NativeID, err)
	}
	return f, nil
}

func (s *FSScanner) walk(ctx context.Context, source Source, root string, visit func(Item)) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subtree: skip rather than abort the whole scan
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		mimeType := mime.TypeByExtension(filepath.Ext(d.Name()))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		// strip parameters such as "; charset=utf-8"
		if i := strings.IndexByte(mimeType, ';'); i >= 0 {
			mimeType = strings.TrimSpace(mimeType[:i])
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = d.Name()
		}

		visit(Item{
			NativeID:   string(source) + ":" + filepath.ToSlash(rel),
			Name:       d.Name(),
			Size:       info.Size(),
			MimeType:   mimeType,
			TakenAt:    info.ModTime(),
			ModifiedAt: info.ModTime(),
			Path:       path,
			Kind:       KindFromMime(mimeType),
			Source:     source,
		})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("scan %s: %w", root, err)
	}
	return nil
}
