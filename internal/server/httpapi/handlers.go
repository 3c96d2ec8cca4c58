// Package httpapi exposes the backup server's HTTP surface: the health and
// status probes, the dedup check, the multipart upload endpoint and the
// backup statistics, plus Prometheus metrics.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrijs2005/photosync/internal/logging"
	"github.com/dmitrijs2005/photosync/internal/media"
	"github.com/dmitrijs2005/photosync/internal/server/storage"
	"github.com/dmitrijs2005/photosync/internal/server/store"
)

const apiVersion = "1.0.0"

// Handler serves the backup API.
type Handler struct {
	index      store.Repository
	storage    *storage.Storage
	serverID   string
	serverName string
	logger     logging.Logger
}

func NewHandler(index store.Repository, st *storage.Storage, serverID, serverName string, logger logging.Logger) *Handler {
	return &Handler{
		index:      index,
		storage:    st,
		serverID:   serverID,
		serverName: serverName,
		logger:     logger.With("module", "httpapi"),
	}
}

// Router builds the chi router. Health and metrics are unauthenticated;
// everything else requires the API key.
func (h *Handler) Router(apiKey string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(MetricsMiddleware())

	r.Get("/api/health", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(APIKeyMiddleware(apiKey))
		r.Get("/api/status", h.status)
		r.Post("/api/files/check", h.checkFiles)
		r.Post("/api/files/upload", h.uploadFile)
		r.Get("/api/files/stats", h.stats)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"version":     apiVersion,
		"server_name": h.serverName,
		"server_id":   h.serverID,
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	info, err := h.storage.Info()
	if err != nil {
		h.logger.Error(r.Context(), "failed to read storage info", "error", err)
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"storage_path":     info.Path,
		"total_files":      info.TotalFiles,
		"total_size_bytes": info.TotalSize,
		"total_size_human": storage.FormatSize(info.TotalSize),
		"api_version":      apiVersion,
	})
}

func (h *Handler) checkFiles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hashes []string `json:"hashes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	existing, err := h.index.ExistingOf(r.Context(), req.Hashes)
	if err != nil {
		h.logger.Error(r.Context(), "failed to query existing hashes", "error", err)
		writeError(w, http.StatusInternalServerError, "index unavailable")
		return
	}

	resp := struct {
		Existing []string `json:"existing"`
		Missing  []string `json:"missing"`
	}{Existing: []string{}, Missing: []string{}}
	for _, hash := range req.Hashes {
		if _, ok := existing[hash]; ok {
			resp.Existing = append(resp.Existing, hash)
		} else {
			resp.Missing = append(resp.Missing, hash)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// upload carries the multipart fields that precede the file part.
type upload struct {
	hash         string
	originalPath string
	takenAt      time.Time
	mimeType     string
	deviceName   string
	source       media.Source
}

func (h *Handler) uploadFile(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart body")
		return
	}

	// The agent writes all metadata fields before the file part, so by the
	// time the stream arrives everything needed to route it is known.
	var up upload
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "missing file part")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}

		if part.FormName() != "file" {
			if err := up.setField(part); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			continue
		}

		h.receiveFile(w, r, &up, part)
		return
	}
}

func (up *upload) setField(part *multipart.Part) error {
	buf, err := io.ReadAll(io.LimitReader(part, 4096))
	if err != nil {
		return errors.New("unreadable form field")
	}
	value := string(buf)

	switch part.FormName() {
	case "file_hash":
		up.hash = value
	case "original_path":
		up.originalPath = value
	case "date_taken":
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil && ms > 0 {
			up.takenAt = time.UnixMilli(ms)
		}
	case "mime_type":
		up.mimeType = value
	case "device_name":
		up.deviceName = value
	case "source":
		if src, err := media.ParseSource(value); err == nil {
			up.source = src
		}
	}
	return nil
}

func (h *Handler) receiveFile(w http.ResponseWriter, r *http.Request, up *upload, part *multipart.Part) {
	ctx := r.Context()

	if up.hash == "" {
		writeError(w, http.StatusBadRequest, "missing file_hash")
		return
	}

	exists, err := h.index.Exists(ctx, up.hash)
	if err != nil {
		h.logger.Error(ctx, "failed to check hash", "error", err)
		writeError(w, http.StatusInternalServerError, "index unavailable")
		return
	}
	if exists {
		uploadsTotal.WithLabelValues("exists").Inc()
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "exists",
			"message": "File already backed up",
		})
		return
	}

	mimeType := up.mimeType
	if mimeType == "" {
		mimeType = part.Header.Get("Content-Type")
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	filename := part.FileName()
	if filename == "" {
		filename = "unknown"
	}

	relPath := h.storage.RelativePath(filename, mimeType, up.takenAt, up.source)
	written, err := h.storage.SaveStream(relPath, up.hash, part)
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, storage.ErrHashMismatch) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"status":  "error",
				"message": err.Error(),
			})
			return
		}
		h.logger.Error(ctx, "failed to store upload", "hash", up.hash, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	err = h.index.Record(ctx, &store.File{
		ContentHash:  up.hash,
		StoragePath:  filepath.ToSlash(relPath),
		OriginalPath: up.originalPath,
		OriginalName: filename,
		Size:         written,
		MimeType:     mimeType,
		Source:       string(up.source),
		DeviceName:   up.deviceName,
		TakenAt:      up.takenAt,
	})
	if errors.Is(err, store.ErrDuplicate) {
		// lost a race with a concurrent upload of the same content; drop
		// the extra copy
		_ = os.Remove(filepath.Join(h.storage.Root(), relPath))
		uploadsTotal.WithLabelValues("exists").Inc()
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "exists",
			"message": "File already backed up",
		})
		return
	}
	if err != nil {
		h.logger.Error(ctx, "failed to index upload", "hash", up.hash, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to index file")
		return
	}

	uploadsTotal.WithLabelValues("success").Inc()
	uploadedBytesTotal.Add(float64(written))
	h.logger.Info(ctx, "file backed up",
		"path", filepath.ToSlash(relPath), "size", written, "device", up.deviceName)

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "success",
		"path":   filepath.ToSlash(relPath),
		"hash":   up.hash,
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.index.Stats(r.Context())
	if err != nil {
		h.logger.Error(r.Context(), "failed to read stats", "error", err)
		writeError(w, http.StatusInternalServerError, "index unavailable")
		return
	}

	resp := map[string]any{
		"total_files":      st.TotalFiles,
		"total_size_bytes": st.TotalSize,
		"total_size_human": storage.FormatSize(st.TotalSize),
		"storage_path":     h.storage.Root(),
	}
	if !st.FirstBackup.IsZero() {
		resp["first_backup"] = st.FirstBackup.UTC().Format(time.RFC3339)
	}
	if !st.LastBackup.IsZero() {
		resp["last_backup"] = st.LastBackup.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": message})
}
