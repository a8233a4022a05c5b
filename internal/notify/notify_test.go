package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventScanFailed, " "}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventOpportunity, "skip", ""))
	require.NoError(t, n.Notify(context.Background(), EventScanFailed, "keep", ""))

	assert.Equal(t, []string{"keep"}, s.titles)
	assert.False(t, n.Enabled(EventOpportunity))
}

func TestNotifierDeliversToAllDespiteFailure(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), EventOpportunity, "t", "m")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Equal(t, []string{"t"}, good.titles)
}

func TestNilNotifierIsDisabled(t *testing.T) {
	var n *Notifier
	assert.False(t, n.Enabled(EventOpportunity))
	assert.NoError(t, n.Notify(context.Background(), EventOpportunity, "t", "m"))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL

	require.NoError(t, s.Send(context.Background(), "Title", "Body"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nBody", got["text"])
}

func TestDiscordSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429: slow down")
}

func TestFormatOpportunity(t *testing.T) {
	title, msg := FormatOpportunity(domain.Opportunity{
		ItemID:          "i1",
		Title:           "AK-47 | Redline",
		Game:            domain.GameCS2,
		BuyPrice:        1000,
		TargetSellPrice: 1250,
		EstimatedProfit: decimal.RequireFromString("187.5"),
		ProfitPercent:   18.75,
	})

	assert.Equal(t, "Arbitrage: AK-47 | Redline", title)
	assert.Contains(t, msg, "Buy: $10.00")
	assert.Contains(t, msg, "Sell target: $12.50")
	assert.Contains(t, msg, "Profit: $1.88 (18.75%)")
}

func TestFormatScanResult(t *testing.T) {
	total := int64(900)
	tests := []struct {
		name      string
		cp        domain.Checkpoint
		found     int
		wantEvent string
		wantTitle string
	}{
		{"completed empty", domain.Checkpoint{Status: domain.ScanCompleted}, 0, EventScanCompleted, "Scan completed: no opportunities"},
		{"completed hits", domain.Checkpoint{Status: domain.ScanCompleted, TotalItems: &total}, 3, EventScanCompleted, "Scan completed: 3 opportunities"},
		{"failed", domain.Checkpoint{Status: domain.ScanFailed, Reason: "fetch failed"}, 0, EventScanFailed, "Scan failed"},
		{"paused", domain.Checkpoint{Status: domain.ScanPaused}, 2, EventScanPaused, "Scan paused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, title, _ := FormatScanResult(tt.cp, tt.found)
			assert.Equal(t, tt.wantEvent, event)
			assert.Equal(t, tt.wantTitle, title)
		})
	}
}
