package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/skinbot/internal/domain"
	"github.com/alanyoungcy/skinbot/internal/scanner"
)

// OpportunityHandler serves detected opportunities. The store is optional;
// without postgres only the bus stream is available.
type OpportunityHandler struct {
	store  domain.OpportunityStore
	bus    domain.SignalBus
	logger *slog.Logger
}

func NewOpportunityHandler(store domain.OpportunityStore, bus domain.SignalBus, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{store: store, bus: bus, logger: logHandler(logger, "opportunities")}
}

// ListOpportunities returns stored opportunities, newest first.
// GET /api/opportunities?game=csgo&scan_id=...&limit=50&offset=0&since=...
func (h *OpportunityHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "opportunity history requires postgres")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := domain.OpportunityQuery{
		ListOpts: opts,
		Game:     domain.Game(r.URL.Query().Get("game")),
		ScanID:   r.URL.Query().Get("scan_id"),
	}

	opps, err := h.store.List(r.Context(), q)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to list opportunities", err)
		return
	}
	out := make([]scanner.OpportunityEvent, 0, len(opps))
	for _, o := range opps {
		out = append(out, scanner.OpportunityEventFrom(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": out})
}

type streamEntry struct {
	ID          string                   `json:"id"`
	Opportunity scanner.OpportunityEvent `json:"opportunity"`
}

// StreamOpportunities reads the durable opportunity stream after a given
// entry ID, so dashboards can catch up after a reconnect.
// GET /api/opportunities/stream?after=<id>&count=100
func (h *OpportunityHandler) StreamOpportunities(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusNotImplemented, "opportunity stream requires redis")
		return
	}
	count := 100
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = min(n, 1000)
	}

	msgs, err := h.bus.StreamRead(r.Context(), scanner.StreamOpportunities, r.URL.Query().Get("after"), count)
	if err != nil {
		writeDomainError(w, r, h.logger, "failed to read opportunity stream", err)
		return
	}
	out := make([]streamEntry, 0, len(msgs))
	for _, m := range msgs {
		var ev scanner.OpportunityEvent
		if err := json.Unmarshal(m.Payload, &ev); err != nil {
			h.logger.WarnContext(r.Context(), "skipping malformed stream entry", slog.String("id", m.ID))
			continue
		}
		out = append(out, streamEntry{ID: m.ID, Opportunity: ev})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
