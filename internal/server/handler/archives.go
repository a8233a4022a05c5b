package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

const archivePrefix = "archive/"

// ArchiveHandler lists and downloads archived JSONL batches.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logHandler(logger, "archives")}
}

type archiveView struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
}

// ListArchives lists archive objects under an optional kind/date prefix.
// GET /api/archives?prefix=checkpoints/2025/03
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix, ok := archivePath(r.URL.Query().Get("prefix"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid prefix")
		return
	}
	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to list archives", err)
		return
	}
	out := make([]archiveView, 0, len(infos))
	for _, info := range infos {
		out = append(out, archiveView{
			Path:         strings.TrimPrefix(info.Path, archivePrefix),
			Size:         info.Size,
			LastModified: info.LastModified.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": out})
}

// GetArchive streams one archive object as NDJSON.
// GET /api/archives/{path...}
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	path, ok := archivePath(r.PathValue("path"))
	if !ok || path == archivePrefix {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	exists, err := h.blobs.Exists(r.Context(), path)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to stat archive", err)
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	body, err := h.blobs.Get(r.Context(), path)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to read archive", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive download interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// archivePath confines a client path to the archive prefix.
func archivePath(p string) (string, bool) {
	p = strings.TrimPrefix(p, "/")
	if strings.Contains(p, "..") {
		return "", false
	}
	return archivePrefix + p, true
}
