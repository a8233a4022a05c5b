// Package ws relays scan and opportunity events from the signal bus to
// dashboard websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/skinbot/internal/domain"
	"github.com/alanyoungcy/skinbot/internal/scanner"
)

// defaultChannels are relayed from the bus and subscribed for every new
// client.
var defaultChannels = []string{
	scanner.ChannelOpportunities,
	scanner.ChannelScans,
}

// envelope wraps every outgoing frame.
type envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type broadcastMsg struct {
	channel string
	data    []byte
}

// Config carries the metadata sent to clients on connect and the allowed
// browser origins. Empty AllowedOrigins accepts any origin.
type Config struct {
	Mode           string
	StartedAt      time.Time
	AllowedOrigins []string
}

// Hub tracks connected dashboards and fans bus messages out to them.
type Hub struct {
	bus       domain.SignalBus
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	mode      string
	startedAt time.Time

	broadcast chan broadcastMsg

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub. bus may be nil, in which case only the status frame
// and Broadcast calls reach clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		bus:       bus,
		logger:    logger.With(slog.String("component", "ws_hub")),
		mode:      mode,
		startedAt: startedAt,
		broadcast: make(chan broadcastMsg, 256),
		clients:   make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Run relays bus channels until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		for _, ch := range defaultChannels {
			go h.relay(ctx, ch)
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// Broadcast queues data for every client subscribed to channel. It blocks
// until the hub accepts the message or ctx is done.
func (h *Hub) Broadcast(ctx context.Context, channel string, data []byte) {
	select {
	case h.broadcast <- broadcastMsg{channel: channel, data: data}:
	case <-ctx.Done():
	}
}

func (h *Hub) fanOut(msg broadcastMsg) {
	frame, err := json.Marshal(envelope{Type: "event", Channel: msg.channel, Payload: rawJSON(msg.data)})
	if err != nil {
		return
	}
	var opp *oppSummary
	if msg.channel == scanner.ChannelOpportunities {
		opp = summarize(msg.data)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(msg.channel, opp) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("dropping frame for slow client", slog.String("channel", msg.channel))
		}
	}
}

func (h *Hub) relay(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("bus subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("relaying bus channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("bus subscription closed", slog.String("channel", channel))
				return
			}
			h.Broadcast(ctx, channel, data)
		}
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("dashboard connected", slog.Int("clients", n))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Info("dashboard disconnected", slog.Int("clients", n))
	}
}

// HandleWS upgrades the request and starts the client's pumps.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn)
	c.queue(h.statusFrame())
	if !h.add(c) {
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// statusFrame lets clients mark the connection healthy before any scan
// event flows.
func (h *Hub) statusFrame() []byte {
	payload, _ := json.Marshal(map[string]any{
		"mode":           h.mode,
		"uptime_seconds": max(0, int64(time.Since(h.startedAt).Seconds())),
		"channels":       defaultChannels,
	})
	frame, _ := json.Marshal(envelope{Type: "status", Payload: payload})
	return frame
}

// rawJSON passes valid JSON through and quotes anything else.
func rawJSON(b []byte) json.RawMessage {
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
