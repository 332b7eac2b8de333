package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	s3blob "github.com/openclob/polymirror/internal/blob/s3"
	"github.com/openclob/polymirror/internal/domain"
)

// ArchiveBrowser is the subset of the blob reader the handler needs.
type ArchiveBrowser interface {
	List(ctx context.Context, prefix string) ([]s3blob.BlobInfo, error)
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// ArchiveHandler exposes the JSONL exports written by the archiver. Only
// registered when archiving is configured.
type ArchiveHandler struct {
	blobs  ArchiveBrowser
	logger *slog.Logger
}

func NewArchiveHandler(blobs ArchiveBrowser, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logger}
}

type archiveInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// List returns metadata for stored archive objects.
// GET /api/archives?prefix=copy_trades
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	prefix := "archive/"
	if p := r.URL.Query().Get("prefix"); p != "" {
		prefix += strings.TrimPrefix(p, "archive/")
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	archives := make([]archiveInfo, 0, len(infos))
	for _, info := range infos {
		archives = append(archives, archiveInfo{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": archives})
}

// Download streams one archive object as JSON lines.
// GET /api/archives/{path...}
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	path, ok := archivePath(r)
	if !ok {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}

	body, err := h.blobs.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: download archive failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to download archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// Delete removes one archive object.
// DELETE /api/archives/{path...}
func (h *ArchiveHandler) Delete(w http.ResponseWriter, r *http.Request) {
	path, ok := archivePath(r)
	if !ok {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}

	if err := h.blobs.Delete(r.Context(), path); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: delete archive failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete archive")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// archivePath extracts the object key from the request and confines it to the
// archive namespace so the handler cannot reach other bucket contents.
func archivePath(r *http.Request) (string, bool) {
	path := r.PathValue("path")
	if !strings.HasPrefix(path, "archive/") {
		return "", false
	}
	return path, true
}
