package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

// ScanService is the checkpoint surface the scan endpoints need.
type ScanService interface {
	List(ctx context.Context, q domain.CheckpointQuery) ([]domain.Checkpoint, error)
	Load(ctx context.Context, scanID string) (*domain.Checkpoint, error)
	Pause(ctx context.Context, scanID string) (domain.Checkpoint, error)
	Resume(ctx context.Context, scanID string) (domain.Checkpoint, error)
}

// ScanHandler serves checkpoint endpoints.
type ScanHandler struct {
	scans  ScanService
	logger *slog.Logger
}

func NewScanHandler(scans ScanService, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{scans: scans, logger: logHandler(logger, "scans")}
}

type scanView struct {
	ScanID         string            `json:"scan_id"`
	UserID         string            `json:"user_id"`
	OperationType  string            `json:"operation_type"`
	Status         string            `json:"status"`
	Cursor         string            `json:"cursor,omitempty"`
	ProcessedItems int64             `json:"processed_items"`
	TotalItems     *int64            `json:"total_items,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toScanView(cp domain.Checkpoint) scanView {
	return scanView{
		ScanID:         cp.ScanID,
		UserID:         cp.UserID,
		OperationType:  cp.OperationType,
		Status:         string(cp.Status),
		Cursor:         cp.Cursor,
		ProcessedItems: cp.ProcessedItems,
		TotalItems:     cp.TotalItems,
		Reason:         cp.Reason,
		Metadata:       cp.Metadata,
		Timestamp:      cp.Timestamp,
		CreatedAt:      cp.CreatedAt,
		UpdatedAt:      cp.UpdatedAt,
	}
}

// ListScans returns checkpoints, newest first.
// GET /api/scans?status=running,paused&user_id=u1&limit=50
func (h *ScanHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := domain.CheckpointQuery{UserID: q.Get("user_id"), Limit: 50}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		query.Limit = min(n, 500)
	}
	if v := q.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			status := domain.ScanStatus(strings.TrimSpace(s))
			if !status.Valid() {
				writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(string(status)))
				return
			}
			query.Statuses = append(query.Statuses, status)
		}
	}

	cps, err := h.scans.List(r.Context(), query)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to list scans", err)
		return
	}
	out := make([]scanView, 0, len(cps))
	for _, cp := range cps {
		out = append(out, toScanView(cp))
	}
	writeJSON(w, http.StatusOK, map[string]any{"scans": out})
}

// GetScan returns one checkpoint.
// GET /api/scans/{id}
func (h *ScanHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	cp, err := h.scans.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to load scan", err)
		return
	}
	if cp == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, toScanView(*cp))
}

// PauseScan pauses a running scan. The scanner notices on its next progress
// write and stops. The scan stays paused until ResumeScan is called for it.
// POST /api/scans/{id}/pause
func (h *ScanHandler) PauseScan(w http.ResponseWriter, r *http.Request) {
	cp, err := h.scans.Pause(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to pause scan", err)
		return
	}
	h.logger.InfoContext(r.Context(), "scan paused via api", slog.String("scan_id", cp.ScanID))
	writeJSON(w, http.StatusOK, toScanView(cp))
}

// ResumeScan moves a paused scan back to running. The next run of the job
// owning it continues from the saved cursor.
// POST /api/scans/{id}/resume
func (h *ScanHandler) ResumeScan(w http.ResponseWriter, r *http.Request) {
	cp, err := h.scans.Resume(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to resume scan", err)
		return
	}
	h.logger.InfoContext(r.Context(), "scan resumed via api", slog.String("scan_id", cp.ScanID))
	writeJSON(w, http.StatusOK, toScanView(cp))
}
