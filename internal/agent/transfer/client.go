// Package transfer implements the authenticated HTTP session against one
// backup server: health probe, batch hash-existence query and single-file
// streaming upload.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrijs2005/photosync/internal/agent/discovery"
	"github.com/dmitrijs2005/photosync/internal/logging"
	"github.com/dmitrijs2005/photosync/internal/media"
)

const apiKeyHeader = "X-API-Key"

// UploadStatus is the three-way outcome of a single file transfer.
type UploadStatus string

const (
	UploadSuccess       UploadStatus = "success"
	UploadAlreadyExists UploadStatus = "exists"
	UploadError         UploadStatus = "error"
)

// UploadResult carries the classified outcome. Reason is a short
// human-readable string; no stack traces cross this boundary.
type UploadResult struct {
	Status UploadStatus
	Path   string
	Reason string
}

type uploadResponse struct {
	Status  string `json:"status"`
	Path    string `json:"path,omitempty"`
	Hash    string `json:"hash,omitempty"`
	Message string `json:"message,omitempty"`
}

type checkRequest struct {
	Hashes []string `json:"hashes"`
}

type checkResponse struct {
	Existing []string `json:"existing"`
	Missing  []string `json:"missing"`
}

// Client is bound to one server and API key for the duration of a run.
type Client struct {
	baseURL    string
	apiKey     string
	deviceName string
	httpClient *http.Client
	logger     logging.Logger
}

func NewClient(info *discovery.ServerInfo, apiKey, deviceName string, timeout time.Duration, logger logging.Logger) *Client {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Client{
		baseURL:    "http://" + info.Addr(),
		apiKey:     apiKey,
		deviceName: deviceName,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("module", "transfer", "server", info.Addr()),
	}
}

// HealthCheck probes the server. Any transport failure or non-2xx status
// yields false.
func (c *Client) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return false
	}
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug(ctx, "health check failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// CheckExisting asks the server which of the hashes it already stores.
// On any server or transport error it returns an empty set: correctness
// then degrades to "upload and let the server dedup", which is safe.
func (c *Client) CheckExisting(ctx context.Context, hashes []string) map[string]struct{} {
	existing := make(map[string]struct{})
	if len(hashes) == 0 {
		return existing
	}

	body, err := json.Marshal(checkRequest{Hashes: hashes})
	if err != nil {
		return existing
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/files/check", bytes.NewReader(body))
	if err != nil {
		return existing
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn(ctx, "check-existing request failed", "error", err)
		return existing
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn(ctx, "check-existing rejected", "status", resp.StatusCode)
		return existing
	}

	var cr checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		c.logger.Warn(ctx, "check-existing decode failed", "error", err)
		return existing
	}

	for _, h := range cr.Existing {
		existing[h] = struct{}{}
	}
	return existing
}

// Upload streams the item's bytes as a multipart body. The file is never
// buffered in memory; metadata fields are written before the file part so
// the server can dedup before consuming the stream. Transport errors become
// UploadError results, never panics or returned errors: a single file's
// failure must not crash the run.
func (c *Client) Upload(ctx context.Context, item media.Item, hash string, r io.Reader) UploadResult {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := c.writeMultipart(mw, item, hash, r)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/files/upload", pr)
	if err != nil {
		return UploadResult{Status: UploadError, Reason: err.Error()}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UploadResult{Status: UploadError, Reason: fmt.Sprintf("transport: %v", err)}
	}
	defer resp.Body.Close()

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return UploadResult{Status: UploadError,
			Reason: fmt.Sprintf("bad response (http %d): %v", resp.StatusCode, err)}
	}

	switch ur.Status {
	case "success":
		return UploadResult{Status: UploadSuccess, Path: ur.Path}
	case "exists":
		return UploadResult{Status: UploadAlreadyExists, Path: ur.Path}
	default:
		reason := ur.Message
		if reason == "" {
			reason = fmt.Sprintf("server returned %q (http %d)", ur.Status, resp.StatusCode)
		}
		return UploadResult{Status: UploadError, Reason: reason}
	}
}

func (c *Client) writeMultipart(mw *multipart.Writer, item media.Item, hash string, r io.Reader) error {
	fields := map[string]string{
		"file_hash":     hash,
		"original_path": item.Path,
		"date_taken":    strconv.FormatInt(item.TakenAt.UnixMilli(), 10),
		"mime_type":     item.MimeType,
		"device_name":   c.deviceName,
		"source":        string(item.Source),
	}
	// fixed order keeps requests reproducible
	for _, k := range []string{"file_hash", "original_path", "date_taken", "mime_type", "device_name", "source"} {
		if err := mw.WriteField(k, fields[k]); err != nil {
			return err
		}
	}

	part, err := mw.CreateFormFile("file", item.Name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}
