package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinbot/internal/checkpoint"
	"github.com/alanyoungcy/skinbot/internal/clock"
	"github.com/alanyoungcy/skinbot/internal/domain"
	"github.com/alanyoungcy/skinbot/internal/server"
	"github.com/alanyoungcy/skinbot/internal/server/handler"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memOpps struct {
	opps  []domain.Opportunity
	query domain.OpportunityQuery
}

func (m *memOpps) Insert(_ context.Context, o domain.Opportunity) error {
	m.opps = append(m.opps, o)
	return nil
}

func (m *memOpps) List(_ context.Context, q domain.OpportunityQuery) ([]domain.Opportunity, error) {
	m.query = q
	return m.opps, nil
}

func (m *memOpps) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type memBlobs map[string][]byte

func (b memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := b[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, data := range b {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(data))})
		}
	}
	return out, nil
}

func (b memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b[path]
	return ok, nil
}

type countingLimiter struct {
	allowed int
	err     error
}

func (l *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.allowed == 0 {
		return false, nil
	}
	l.allowed--
	return true, nil
}

type harness struct {
	srv     *server.Server
	manager *checkpoint.Manager
	opps    *memOpps
	routes  []string
}

type option func(*server.Config, *server.Handlers)

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	logger := discardLogger()
	h := &harness{
		manager: checkpoint.NewManager(checkpoint.NewMemoryStore(), clock.NewFake(time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)), logger),
		opps:    &memOpps{},
	}
	cfg := server.Config{
		Port: 0,
		Observe: func(route string, _ int, _ time.Duration) {
			h.routes = append(h.routes, route)
		},
	}
	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(map[string]handler.Check{"postgres": func(context.Context) error { return nil }}, logger),
		Status:        handler.NewStatusHandler("serve", time.Now(), nil),
		Scans:         handler.NewScanHandler(h.manager, logger),
		Opportunities: handler.NewOpportunityHandler(h.opps, nil, logger),
		Archives: handler.NewArchiveHandler(memBlobs{
			"archive/checkpoints/2025/03/04/a-b-2.jsonl": []byte("{\"scan_id\":\"a\"}\n"),
		}, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, "metrics") }),
	}
	for _, o := range opts {
		o(&cfg, &handlers)
	}
	h.srv = server.NewServer(cfg, handlers, nil, logger)
	return h
}

func (h *harness) do(method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"postgres": "ok"}, body["dependencies"])
}

func TestHealth_Degraded(t *testing.T) {
	h := newHarness(t, func(_ *server.Config, hs *server.Handlers) {
		hs.Health = handler.NewHealthHandler(map[string]handler.Check{
			"redis": func(context.Context) error { return errors.New("connection refused") },
		}, discardLogger())
	})

	rec := h.do(http.MethodGet, "/api/health", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}

func TestAuth(t *testing.T) {
	h := newHarness(t, func(c *server.Config, _ *server.Handlers) { c.APIKey = "secret" })

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"missing token", "/api/scans", nil, http.StatusUnauthorized},
		{"wrong token", "/api/scans", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"bearer token", "/api/scans", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"api key header", "/api/scans", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"health is public", "/api/health", nil, http.StatusOK},
		{"metrics is public", "/metrics", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodGet, tt.path, tt.header)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestScans_ListGetPause(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.manager.Create(ctx, "scan-1", "u1", "arbitrage", nil)
	require.NoError(t, err)

	rec := h.do(http.MethodGet, "/api/scans?status=running", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	scans := decode(t, rec)["scans"].([]any)
	require.Len(t, scans, 1)
	assert.Equal(t, "scan-1", scans[0].(map[string]any)["scan_id"])

	rec = h.do(http.MethodGet, "/api/scans/scan-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", decode(t, rec)["status"])

	rec = h.do(http.MethodPost, "/api/scans/scan-1/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paused", decode(t, rec)["status"])

	rec = h.do(http.MethodPost, "/api/scans/scan-1/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "pausing a paused scan is rejected")

	assert.Contains(t, h.routes, "POST /api/scans/{id}/pause")

	rec = h.do(http.MethodPost, "/api/scans/scan-1/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", decode(t, rec)["status"])

	_, err = h.manager.MarkCompleted(ctx, "scan-1")
	require.NoError(t, err)
	rec = h.do(http.MethodPost, "/api/scans/scan-1/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "a completed scan cannot resume")
}

func TestScans_Errors(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/scans/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/api/scans/missing/pause", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/api/scans/missing/resume", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/scans?status=bogus", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/scans?limit=-1", nil).Code)
}

func TestOpportunities_List(t *testing.T) {
	h := newHarness(t)
	h.opps.opps = []domain.Opportunity{{
		ID: "o1", Title: "AK-47 | Redline", Game: domain.GameCS2,
		BuyPrice: 1000, TargetSellPrice: 1200, EstimatedProfit: decimal.NewFromInt(140), ProfitPercent: 14,
	}}

	rec := h.do(http.MethodGet, "/api/opportunities?game=csgo&limit=10&since=2025-03-01T00:00:00Z", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	opps := decode(t, rec)["opportunities"].([]any)
	require.Len(t, opps, 1)
	assert.Equal(t, "140", opps[0].(map[string]any)["estimated_profit"])
	assert.Equal(t, domain.GameCS2, h.opps.query.Game)
	assert.Equal(t, 10, h.opps.query.Limit)
	require.NotNil(t, h.opps.query.Since)
}

func TestOpportunities_BadSinceAndMissingBus(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/opportunities?since=yesterday", nil).Code)
	assert.Equal(t, http.StatusNotImplemented, h.do(http.MethodGet, "/api/opportunities/stream", nil).Code)
}

func TestArchives(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/archives?prefix=checkpoints/2025", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	archives := decode(t, rec)["archives"].([]any)
	require.Len(t, archives, 1)
	assert.Equal(t, "checkpoints/2025/03/04/a-b-2.jsonl", archives[0].(map[string]any)["path"])

	rec = h.do(http.MethodGet, "/api/archives/checkpoints/2025/03/04/a-b-2.jsonl", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, "{\"scan_id\":\"a\"}\n", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/archives/checkpoints/none.jsonl", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/archives?prefix=../secrets", nil).Code)
}

func TestRateLimit(t *testing.T) {
	limiter := &countingLimiter{allowed: 1}
	h := newHarness(t, func(c *server.Config, _ *server.Handlers) {
		c.Limiter = limiter
		c.RateLimitPerMinute = 1
	})

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/status", nil).Code)

	rec := h.do(http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimit_FailsOpen(t *testing.T) {
	h := newHarness(t, func(c *server.Config, _ *server.Handlers) {
		c.Limiter = &countingLimiter{err: errors.New("redis down")}
		c.RateLimitPerMinute = 1
	})

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/api/status", nil).Code)
}

func TestCORS_Preflight(t *testing.T) {
	h := newHarness(t, func(c *server.Config, _ *server.Handlers) {
		c.CORSOrigins = []string{"http://localhost:3000"}
	})

	rec := h.do(http.MethodOptions, "/api/scans", map[string]string{"Origin": "http://localhost:3000"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = h.do(http.MethodOptions, "/api/scans", map[string]string{"Origin": "http://evil.example"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuth_RejectionBody(t *testing.T) {
	h := newHarness(t, func(c *server.Config, _ *server.Handlers) { c.APIKey = "secret" })

	rec := h.do(http.MethodGet, "/api/scans", map[string]string{"Authorization": "Bearer wrong"})

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "unauthorized", body["error"])
	assert.Equal(t, "invalid api key", body["detail"])
}

func TestRequestID(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/health", nil)
	generated := rec.Header().Get("X-Request-ID")
	assert.Len(t, generated, 36)

	rec = h.do(http.MethodGet, "/api/health", map[string]string{"X-Request-ID": "trace-42"})
	assert.Equal(t, "trace-42", rec.Header().Get("X-Request-ID"))
}
