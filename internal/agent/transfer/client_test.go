package transfer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/photosync/internal/agent/discovery"
	"github.com/dmitrijs2005/photosync/internal/logging"
	"github.com/dmitrijs2005/photosync/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func clientFor(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	info := &discovery.ServerInfo{Host: u.Hostname(), Port: port}
	return NewClient(info, "test-key", "pixel-8", 5*time.Second, testLogger())
}

func testItem() media.Item {
	return media.Item{
		NativeID: "camera:IMG_0001.jpg",
		Name:     "IMG_0001.jpg",
		Size:     11,
		MimeType: "image/jpeg",
		TakenAt:  time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		Path:     "/sdcard/DCIM/IMG_0001.jpg",
		Kind:     media.KindImage,
		Source:   media.SourceCamera,
	}
}

func TestHealthCheck(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		assert.Equal(t, "/api/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c := clientFor(t, srv)
	assert.True(t, c.HealthCheck(context.Background()))
	assert.Equal(t, "test-key", gotKey)
}

func TestHealthCheck_NonOKAndTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	c := clientFor(t, srv)
	assert.False(t, c.HealthCheck(context.Background()))

	srv.Close() // connection refused from here on
	assert.False(t, c.HealthCheck(context.Background()))
}

func TestCheckExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/files/check", r.URL.Path)

		var req struct {
			Hashes []string `json:"hashes"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"h1", "h2", "h3"}, req.Hashes)

		_ = json.NewEncoder(w).Encode(map[string][]string{
			"existing": {"h1", "h3"},
			"missing":  {"h2"},
		})
	}))
	defer srv.Close()

	c := clientFor(t, srv)
	existing := c.CheckExisting(context.Background(), []string{"h1", "h2", "h3"})

	assert.Len(t, existing, 2)
	assert.Contains(t, existing, "h1")
	assert.Contains(t, existing, "h3")
}

func TestCheckExisting_DegradesToEmptyOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := clientFor(t, srv)
	assert.Empty(t, c.CheckExisting(context.Background(), []string{"h1"}))
	assert.Empty(t, c.CheckExisting(context.Background(), nil))
}

func TestUpload_SuccessStreamsFieldsAndFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/files/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "abc1", r.FormValue("file_hash"))
		assert.Equal(t, "/sdcard/DCIM/IMG_0001.jpg", r.FormValue("original_path"))
		assert.Equal(t, "image/jpeg", r.FormValue("mime_type"))
		assert.Equal(t, "pixel-8", r.FormValue("device_name"))
		assert.Equal(t, "camera", r.FormValue("source"))

		ms, err := strconv.ParseInt(r.FormValue("date_taken"), 10, 64)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC).UnixMilli(), ms)

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "IMG_0001.jpg", hdr.Filename)
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "photo-bytes", string(data))

		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "success",
			"path":   "Photos/2024/01/IMG_0001.jpg",
			"hash":   "abc1",
		})
	}))
	defer srv.Close()

	c := clientFor(t, srv)
	res := c.Upload(context.Background(), testItem(), "abc1", strings.NewReader("photo-bytes"))

	assert.Equal(t, UploadSuccess, res.Status)
	assert.Equal(t, "Photos/2024/01/IMG_0001.jpg", res.Path)
}

func TestUpload_Exists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "exists", "message": "File already backed up"})
	}))
	defer srv.Close()

	c := clientFor(t, srv)
	res := c.Upload(context.Background(), testItem(), "abc1", strings.NewReader("photo-bytes"))
	assert.Equal(t, UploadAlreadyExists, res.Status)
}

func TestUpload_ServerErrorBecomesErrorResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": "hash mismatch"})
	}))
	defer srv.Close()

	c := clientFor(t, srv)
	res := c.Upload(context.Background(), testItem(), "abc1", strings.NewReader("photo-bytes"))
	assert.Equal(t, UploadError, res.Status)
	assert.Equal(t, "hash mismatch", res.Reason)
}

func TestUpload_TransportFailureBecomesErrorResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := clientFor(t, srv)
	res := c.Upload(context.Background(), testItem(), "abc1", strings.NewReader("photo-bytes"))
	assert.Equal(t, UploadError, res.Status)
	assert.Contains(t, res.Reason, "transport")
}

func TestUpload_SourceReaderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the piped body aborts; reading it fails server-side
		_, _ = io.Copy(io.Discard, r.Body)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": "short body"})
	}))
	defer srv.Close()

	c := clientFor(t, srv)
	res := c.Upload(context.Background(), testItem(), "abc1", io.MultiReader(
		strings.NewReader("par"), &failingReader{}))
	assert.Equal(t, UploadError, res.Status)
}

type failingReader struct{}

func (r *failingReader) Read(p []byte) (int, error) { return 0, assert.AnError }
