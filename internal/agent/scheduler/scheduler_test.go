package scheduler

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/photosync/internal/agent/checkpoint"
	"github.com/dmitrijs2005/photosync/internal/agent/config"
	"github.com/dmitrijs2005/photosync/internal/agent/connectivity"
	"github.com/dmitrijs2005/photosync/internal/agent/discovery"
	"github.com/dmitrijs2005/photosync/internal/agent/ledger"
	"github.com/dmitrijs2005/photosync/internal/agent/transfer"
	"github.com/dmitrijs2005/photosync/internal/hashx"
	"github.com/dmitrijs2005/photosync/internal/logging"
	"github.com/dmitrijs2005/photosync/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

var testNow = time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE ledger_entries (
  content_hash TEXT PRIMARY KEY,
  native_id    TEXT NOT NULL,
  file_size    INTEGER NOT NULL DEFAULT 0,
  mime_type    TEXT NOT NULL DEFAULT '',
  taken_at     INTEGER NOT NULL DEFAULT 0,
  modified_at  INTEGER NOT NULL DEFAULT 0,
  completed_at INTEGER NOT NULL DEFAULT 0,
  storage_path TEXT NOT NULL DEFAULT '',
  status       TEXT NOT NULL DEFAULT 'pending'
);
CREATE TABLE sync_progress (
  key TEXT PRIMARY KEY, value BLOB NOT NULL, updated_at INTEGER NOT NULL DEFAULT 0
);
`)
	require.NoError(t, err)
	return db
}

// fakeScanner serves fixed items from memory.
type fakeScanner struct {
	mu      sync.Mutex
	items   map[media.Source][]media.Item
	content map[string][]byte // by native id
	openErr map[string]bool
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{
		items:   map[media.Source][]media.Item{},
		content: map[string][]byte{},
		openErr: map[string]bool{},
	}
}

func (f *fakeScanner) addItem(source media.Source, name string, takenAt time.Time) media.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := media.Item{
		NativeID:   string(source) + ":" + name,
		Name:       name,
		Size:       int64(len(name)) + 5,
		MimeType:   "image/jpeg",
		TakenAt:    takenAt,
		ModifiedAt: takenAt,
		Path:       "/media/" + name,
		Kind:       media.KindImage,
		Source:     source,
	}
	f.items[source] = append(f.items[source], item)
	f.content[item.NativeID] = []byte("content-of-" + name)
	return item
}

func (f *fakeScanner) ListCandidates(ctx context.Context, source media.Source, window media.Window) ([]media.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []media.Item
	for _, it := range f.items[source] {
		if window.Contains(it.TakenAt) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeScanner) OldestItem(ctx context.Context, source media.Source) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest time.Time
	found := false
	for _, it := range f.items[source] {
		if !found || it.TakenAt.Before(oldest) {
			oldest = it.TakenAt
			found = true
		}
	}
	return oldest, found, nil
}

func (f *fakeScanner) Open(item media.Item) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr[item.NativeID] {
		return nil, fmt.Errorf("cannot open %s", item.NativeID)
	}
	return io.NopCloser(bytes.NewReader(f.content[item.NativeID])), nil
}

func (f *fakeScanner) hashOf(nativeID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return hashx.SumBytes(f.content[nativeID])
}

// fakeUploader scripts transfer results.
type fakeUploader struct {
	mu       sync.Mutex
	healthy  bool
	existing map[string]struct{}
	result   func(item media.Item) transfer.UploadResult
	uploads  []string // native ids in upload order
	onUpload func(total int)
	blockCh  chan struct{} // when set, Upload blocks until closed
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{
		healthy:  true,
		existing: map[string]struct{}{},
		result: func(media.Item) transfer.UploadResult {
			return transfer.UploadResult{Status: transfer.UploadSuccess, Path: "Photos/x"}
		},
	}
}

func (f *fakeUploader) HealthCheck(ctx context.Context) bool { return f.healthy }

func (f *fakeUploader) CheckExisting(ctx context.Context, hashes []string) map[string]struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]struct{}{}
	for _, h := range hashes {
		if _, ok := f.existing[h]; ok {
			out[h] = struct{}{}
		}
	}
	return out
}

func (f *fakeUploader) Upload(ctx context.Context, item media.Item, hash string, r io.Reader) transfer.UploadResult {
	if f.blockCh != nil {
		<-f.blockCh
	}
	_, _ = io.Copy(io.Discard, r)
	f.mu.Lock()
	f.uploads = append(f.uploads, item.NativeID)
	total := len(f.uploads)
	hook := f.onUpload
	res := f.result(item)
	f.mu.Unlock()
	if hook != nil {
		hook(total)
	}
	return res
}

func (f *fakeUploader) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

type fakeDiscoverer struct {
	info *discovery.ServerInfo
}

func (f *fakeDiscoverer) Discover(ctx context.Context, expectedID string) (*discovery.ServerInfo, error) {
	return f.info, nil
}

func (f *fakeDiscoverer) Verify(host string, port int) *discovery.ServerInfo {
	return &discovery.ServerInfo{Host: host, Port: port}
}

type env struct {
	cfg      *config.Config
	scanner  *fakeScanner
	uploader *fakeUploader
	detector *connectivity.Static
	ledger   ledger.Repository
	progress *checkpoint.Store
	sched    *Scheduler
}

func setup(t *testing.T) *env {
	t.Helper()
	db := setupDB(t)

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.APIKey = "test-key"
	cfg.HomeNetworks = []string{"HomeWiFi"}
	cfg.Sources[media.SourceCamera] = config.SourceConfig{Enabled: true, Root: "/camera"}
	cfg.Sources[media.SourceDownloads] = config.SourceConfig{Enabled: true, Root: "/downloads"}

	e := &env{
		cfg:      cfg,
		scanner:  newFakeScanner(),
		uploader: newFakeUploader(),
		detector: connectivity.NewStatic("HomeWiFi"),
		ledger:   ledger.NewSQLiteRepository(db),
		progress: checkpoint.NewStore(db),
	}
	disc := &fakeDiscoverer{info: &discovery.ServerInfo{Host: "192.168.1.10", Port: 9121, ID: "srv"}}
	e.sched = New(cfg, e.ledger, e.progress, e.scanner, e.detector, disc,
		func(info *discovery.ServerInfo, apiKey string) Uploader { return e.uploader },
		testLogger())
	e.sched.Now = func() time.Time { return testNow }
	return e
}

func TestRun_MissingAPIKeyIsFatal(t *testing.T) {
	e := setup(t)
	e.cfg.APIKey = ""

	out := e.sched.Run(context.Background(), "test")
	assert.Equal(t, StateFailed, out.State)
	assert.False(t, out.Retryable)
	assert.Equal(t, "missing API key", out.Reason)
}

func TestRun_NotOnHomeNetworkIsRetryable(t *testing.T) {
	e := setup(t)
	e.detector.SetNetwork("CoffeeShop")

	out := e.sched.Run(context.Background(), "test")
	assert.Equal(t, StateInterrupted, out.State)
	assert.True(t, out.Retryable)
	assert.Zero(t, e.uploader.uploadCount())
}

func TestRun_UnknownNetworkAllowedWithManualServer(t *testing.T) {
	e := setup(t)
	e.detector.SetNetwork("CoffeeShop")
	e.cfg.AllowUnknownNetwork = true
	e.cfg.ManualServerHost = "192.168.1.10"

	e.scanner.addItem(media.SourceCamera, "a.jpg", testNow.Add(-time.Hour))

	out := e.sched.Run(context.Background(), "test")
	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, 1, out.Counts.Uploaded)
}

func TestRun_OfflineIsRetryable(t *testing.T) {
	e := setup(t)
	e.detector.SetNetwork("")

	out := e.sched.Run(context.Background(), "test")
	assert.Equal(t, StateInterrupted, out.State)
	assert.True(t, out.Retryable)
}

func TestRun_ServerNotFoundIsRetryable(t *testing.T) {
	e := setup(t)
	disc := &fakeDiscoverer{info: nil}
	e.sched.discoverer = disc

	out := e.sched.Run(context.Background(), "test")
	assert.Equal(t, StateInterrupted, out.State)
	assert.True(t, out.Retryable)
	assert.Equal(t, "server not found", out.Reason)
}

func TestRun_UnhealthyServerIsRetryable(t *testing.T) {
	e := setup(t)
	e.uploader.healthy = false

	out := e.sched.Run(context.Background(), "test")
	assert.Equal(t, StateInterrupted, out.State)
	assert.True(t, out.Retryable)
	assert.Equal(t, "server unreachable", out.Reason)
}

func TestRun_HappyPathSourceMajorOrder(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	// camera: one file in Feb, one in Jan; downloads: one file in Feb.
	e.scanner.addItem(media.SourceCamera, "feb.jpg", testNow.Add(-time.Hour))
	e.scanner.addItem(media.SourceCamera, "jan.jpg", time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	e.scanner.addItem(media.SourceDownloads, "dl.jpg", testNow.Add(-2*time.Hour))

	out := e.sched.Run(ctx, "test")
	require.Equal(t, StateCompleted, out.State)
	assert.Equal(t, Counts{Uploaded: 3}, out.Counts)

	// camera's full history before downloads starts
	assert.Equal(t, []string{"camera:feb.jpg", "camera:jan.jpg", "downloads:dl.jpg"}, e.uploader.uploads)

	n, err := e.ledger.CountCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	cp, err := e.progress.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp, "checkpoint must be cleared on completion")

	// re-running against the unchanged media set selects zero candidates
	out = e.sched.Run(ctx, "again")
	require.Equal(t, StateCompleted, out.State)
	assert.Equal(t, Counts{}, out.Counts)
	assert.Equal(t, 3, e.uploader.uploadCount())
}

func TestRun_FailureCapStopsAfterElevenAttempts(t *testing.T) {
	e := setup(t)

	for i := 0; i < 15; i++ {
		e.scanner.addItem(media.SourceCamera, fmt.Sprintf("f%02d.jpg", i), testNow.Add(-time.Duration(i+1)*time.Minute))
	}
	e.uploader.result = func(media.Item) transfer.UploadResult {
		return transfer.UploadResult{Status: transfer.UploadError, Reason: "disk on fire"}
	}

	out := e.sched.Run(context.Background(), "test")
	assert.Equal(t, StateInterrupted, out.State)
	assert.Equal(t, "too many failures", out.Reason)
	assert.Equal(t, 11, out.Counts.Failed)
	assert.Equal(t, 11, e.uploader.uploadCount())
}

func TestRun_ConnectivityLossInterruptsAndResumes(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		e.scanner.addItem(media.SourceCamera, fmt.Sprintf("f%02d.jpg", i), testNow.Add(-time.Duration(i+1)*time.Minute))
	}
	// network drops after the third successful upload
	e.uploader.onUpload = func(total int) {
		if total == 3 {
			e.detector.SetNetwork("")
		}
	}

	out := e.sched.Run(ctx, "test")
	assert.Equal(t, StateInterrupted, out.State)
	assert.Equal(t, "connection lost", out.Reason)
	assert.True(t, out.Retryable)
	assert.Equal(t, 3, out.Counts.Uploaded)

	cp, err := e.progress.Load(ctx)
	require.NoError(t, err)
	assert.NotNil(t, cp, "checkpoint survives a connectivity interruption")

	// network restored: a fresh run finds the remaining 7 files
	e.detector.SetNetwork("HomeWiFi")
	e.uploader.onUpload = nil

	out = e.sched.Run(ctx, "reconnect")
	require.Equal(t, StateCompleted, out.State)
	assert.Equal(t, 7, out.Counts.Uploaded)
	assert.Equal(t, 10, e.uploader.uploadCount())

	n, err := e.ledger.CountCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestRun_ServerSideExistingIsSkippedAndRecorded(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	item := e.scanner.addItem(media.SourceCamera, "dup.jpg", testNow.Add(-time.Hour))
	e.uploader.existing[e.scanner.hashOf(item.NativeID)] = struct{}{}

	out := e.sched.Run(ctx, "test")
	require.Equal(t, StateCompleted, out.State)
	assert.Equal(t, Counts{Skipped: 1}, out.Counts)
	assert.Zero(t, e.uploader.uploadCount())

	done, err := e.ledger.IsCompletedNativeID(ctx, item.NativeID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestRun_AlreadyExistsResponseCountsAsSkip(t *testing.T) {
	e := setup(t)

	e.scanner.addItem(media.SourceCamera, "dup.jpg", testNow.Add(-time.Hour))
	e.uploader.result = func(media.Item) transfer.UploadResult {
		return transfer.UploadResult{Status: transfer.UploadAlreadyExists}
	}

	out := e.sched.Run(context.Background(), "test")
	require.Equal(t, StateCompleted, out.State)
	assert.Equal(t, Counts{Skipped: 1}, out.Counts)
}

func TestRun_OpenFailureIsCountedNotFatal(t *testing.T) {
	e := setup(t)

	bad := e.scanner.addItem(media.SourceCamera, "bad.jpg", testNow.Add(-time.Hour))
	e.scanner.addItem(media.SourceCamera, "good.jpg", testNow.Add(-2*time.Hour))
	e.scanner.openErr[bad.NativeID] = true

	out := e.sched.Run(context.Background(), "test")
	require.Equal(t, StateCompleted, out.State)
	assert.Equal(t, Counts{Uploaded: 1, Failed: 1}, out.Counts)
}

func TestRun_ConcurrentTriggerIsDropped(t *testing.T) {
	e := setup(t)
	e.scanner.addItem(media.SourceCamera, "a.jpg", testNow.Add(-time.Hour))

	block := make(chan struct{})
	e.uploader.blockCh = block

	done := make(chan Outcome, 1)
	go func() { done <- e.sched.Run(context.Background(), "first") }()

	// wait until the first run is inside Upload
	require.Eventually(t, func() bool {
		return e.sched.State() == StateTransferring
	}, time.Second, 5*time.Millisecond)

	out := e.sched.Run(context.Background(), "second")
	assert.Equal(t, StateIdle, out.State)
	assert.Equal(t, "another run is active", out.Reason)

	close(block)
	first := <-done
	assert.Equal(t, StateCompleted, first.State)
}

func TestRun_CancellationInterrupts(t *testing.T) {
	e := setup(t)
	e.scanner.addItem(media.SourceCamera, "a.jpg", testNow.Add(-time.Hour))
	e.scanner.addItem(media.SourceCamera, "b.jpg", testNow.Add(-2*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	e.uploader.onUpload = func(total int) {
		if total == 1 {
			cancel()
		}
	}

	out := e.sched.Run(ctx, "test")
	assert.Equal(t, StateInterrupted, out.State)
	assert.Equal(t, 1, out.Counts.Uploaded)
}
