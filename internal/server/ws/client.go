package ws

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// clientMsg is what dashboards send. "subscribe" and "unsubscribe" change
// the channel set; "filter" narrows the opportunities channel by game and
// minimum profit.
type clientMsg struct {
	Action           string   `json:"action"`
	Channels         []string `json:"channels,omitempty"`
	Games            []string `json:"games,omitempty"`
	MinProfitPercent float64  `json:"min_profit_percent,omitempty"`
}

// oppSummary is the part of an opportunity event that filters look at.
type oppSummary struct {
	Game          string  `json:"game"`
	ProfitPercent float64 `json:"profit_percent"`
}

func summarize(data []byte) *oppSummary {
	var s oppSummary
	if json.Unmarshal(data, &s) != nil {
		return nil
	}
	return &s
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu        sync.RWMutex
	channels  map[string]struct{}
	games     map[string]struct{}
	minProfit float64
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		channels: make(map[string]struct{}, len(defaultChannels)),
	}
	for _, ch := range defaultChannels {
		c.channels[ch] = struct{}{}
	}
	return c
}

// queue is a non-blocking send used before the client is registered.
func (c *client) queue(frame []byte) {
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) apply(msg clientMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.channels[ch] = struct{}{}
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.channels, ch)
		}
	case "filter":
		c.games = nil
		if len(msg.Games) > 0 {
			c.games = make(map[string]struct{}, len(msg.Games))
			for _, g := range msg.Games {
				c.games[strings.ToLower(g)] = struct{}{}
			}
		}
		c.minProfit = max(0, msg.MinProfitPercent)
	}
}

// wants reports whether a frame on channel reaches this client. Channel
// names match exactly or by a trailing-* prefix. opp is non-nil only for
// decodable opportunity events.
func (c *client) wants(channel string, opp *oppSummary) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.subscribedLocked(channel) {
		return false
	}
	if opp == nil {
		return true
	}
	if len(c.games) > 0 {
		if _, ok := c.games[strings.ToLower(opp.Game)]; !ok {
			return false
		}
	}
	return opp.ProfitPercent >= c.minProfit
}

func (c *client) subscribedLocked(channel string) bool {
	if _, ok := c.channels[channel]; ok {
		return true
	}
	for sub := range c.channels {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg clientMsg
		if json.Unmarshal(data, &msg) == nil && msg.Action != "" {
			c.apply(msg)
		}
	}
}

// writePump sends queued frames as text messages plus periodic pings. It
// exits when send is closed by the hub.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
