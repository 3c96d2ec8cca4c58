// Package media defines the shared media model: candidate items, logical
// sources, media kinds and the calendar-month windows that partition a
// sync run.
package media

import (
	"fmt"
	"strings"
	"time"
)

// Kind is a coarse media classification derived from the MIME type.
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindOther    Kind = "other"
)

// KindFromMime maps a MIME type to a Kind.
func KindFromMime(mimeType string) Kind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	case strings.HasPrefix(mimeType, "application/pdf"),
		strings.HasPrefix(mimeType, "text/"):
		return KindDocument
	default:
		return KindOther
	}
}

// Source is a logical origin category for media. The set is closed: every
// candidate file belongs to exactly one of these.
type Source string

const (
	SourceCamera    Source = "camera"
	SourceWhatsApp  Source = "whatsapp"
	SourceWeChat    Source = "wechat"
	SourceDownloads Source = "downloads"
)

// Sources lists all valid sources in their canonical order.
func Sources() []Source {
	return []Source{SourceCamera, SourceWhatsApp, SourceWeChat, SourceDownloads}
}

// ParseSource validates a source tag.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Sources() {
		if src == known {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown media source %q", s)
}

// Item is a candidate file discovered during a scan. Items are immutable
// once read and re-derived on every scan; nothing in an Item is persisted
// except through the ledger.
type Item struct {
	NativeID   string
	Name       string
	Size       int64
	MimeType   string
	TakenAt    time.Time
	ModifiedAt time.Time
	Path       string
	Kind       Kind
	Source     Source
}

// Window is a calendar-month partition used to bound each enumeration and
// transfer batch.
type Window struct {
	Year  int
	Month time.Month
}

// WindowOf returns the window containing t. Windows are defined in UTC;
// normalizing here keeps WindowsBack and Contains in the same frame
// regardless of the zone the scanner stamped on the item.
func WindowOf(t time.Time) Window {
	u := t.UTC()
	return Window{Year: u.Year(), Month: u.Month()}
}

// Label formats the window as "2024-01".
func (w Window) Label() string {
	return fmt.Sprintf("%04d-%02d", w.Year, int(w.Month))
}

// Start returns the first instant of the window in UTC.
func (w Window) Start() time.Time {
	return time.Date(w.Year, w.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the first instant of the following month.
func (w Window) End() time.Time {
	return w.Start().AddDate(0, 1, 0)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	u := t.UTC()
	return !u.Before(w.Start()) && u.Before(w.End())
}

// Prev returns the preceding calendar month.
func (w Window) Prev() Window {
	return WindowOf(w.Start().AddDate(0, -1, 0))
}

// WindowsBack builds the list of month windows from the month of `from`
// back to (and including) the month of `oldest`, newest first. If oldest is
// after from, only the current month is returned.
func WindowsBack(from, oldest time.Time) []Window {
	first := WindowOf(from)
	last := WindowOf(oldest)

	windows := []Window{first}
	w := first
	for w != last && w.Start().After(last.Start()) {
		w = w.Prev()
		windows = append(windows, w)
	}
	return windows
}
