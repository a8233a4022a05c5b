package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/skinbot/internal/ratelimit"
)

// LimiterStats reports per-endpoint marketplace limiter state.
type LimiterStats interface {
	Endpoints() []ratelimit.Stats
}

// StatusHandler serves the process status for dashboards.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	limiter   LimiterStats
	now       func() time.Time
}

// NewStatusHandler creates a StatusHandler. limiter may be nil in serve-only
// mode.
func NewStatusHandler(mode string, startedAt time.Time, limiter LimiterStats) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, limiter: limiter, now: time.Now}
}

// GetStatus responds with mode, uptime and limiter state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	limits := []ratelimit.Stats{}
	if h.limiter != nil {
		limits = append(limits, h.limiter.Endpoints()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"started_at":     h.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(h.now().Sub(h.startedAt).Seconds()),
		"rate_limits":    limits,
	})
}
