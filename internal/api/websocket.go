package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/domotic-core/internal/events"
	"github.com/nerrad567/domotic-core/internal/infrastructure/config"
	"github.com/nerrad567/domotic-core/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypeSnapshot    = "snapshot"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSChannelAll subscribes a client to every event kind.
	WSChannelAll = "*"

	wsSendBufferSize = 64
)

// WSMessage is the envelope of every frame the server writes.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is a frame read from a client. The payload is decoded per type.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
// Channels are event kinds such as "device.state_changed", or "*".
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub fans core events out to WebSocket clients.
//
// Subscriptions are indexed by channel so a broadcast only visits the
// clients that asked for that event kind.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu       sync.RWMutex
	clients  map[*WSClient]struct{}
	channels map[string]map[*WSClient]struct{}
}

// WSClient is one connected WebSocket peer.
type WSClient struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	snapshot func() any
}

func newWSClient(hub *Hub, conn *websocket.Conn, snapshot func() any) *WSClient {
	return &WSClient{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		done:     make(chan struct{}),
		snapshot: snapshot,
	}
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		clients:  make(map[*WSClient]struct{}),
		channels: make(map[string]map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*WSClient]struct{})
	h.channels = make(map[string]map[*WSClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// Register adds a client to the hub with no subscriptions.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client and all its subscriptions. It is safe to call
// more than once.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	for ch, set := range h.channels {
		delete(set, c)
		if len(set) == 0 {
			delete(h.channels, ch)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	if ok {
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) subscribe(c *WSClient, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	for _, ch := range channels {
		set, ok := h.channels[ch]
		if !ok {
			set = make(map[*WSClient]struct{})
			h.channels[ch] = set
		}
		set[c] = struct{}{}
	}
}

func (h *Hub) unsubscribe(c *WSClient, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range channels {
		if set, ok := h.channels[ch]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.channels, ch)
			}
		}
	}
}

// recipients returns the clients subscribed to channel or to every channel.
func (h *Hub) recipients(channel string) []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*WSClient, 0, len(h.channels[channel])+len(h.channels[WSChannelAll]))
	for c := range h.channels[channel] {
		out = append(out, c)
	}
	for c := range h.channels[WSChannelAll] {
		if _, dup := h.channels[channel][c]; !dup {
			out = append(out, c)
		}
	}
	return out
}

// Broadcast sends payload as an event of kind channel. It never blocks: a
// client whose buffer is full misses the message.
func (h *Hub) Broadcast(channel string, payload any) {
	h.broadcast(channel, time.Now(), payload)
}

// Publish broadcasts a core event on the channel named after its kind.
func (h *Hub) Publish(e events.Event) {
	at := e.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	h.broadcast(string(e.Kind), at, e)
}

func (h *Hub) broadcast(channel string, at time.Time, payload any) {
	to := h.recipients(channel)
	if len(to) == 0 {
		return
	}

	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: at.UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal websocket event", "channel", channel, "error", err)
		return
	}

	dropped := 0
	for _, c := range to {
		if !c.enqueue(data) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("websocket clients too slow, event dropped", "channel", channel, "dropped", dropped)
	}
}

// handleWebSocket upgrades the request and starts the client pumps.
// Browsers must come from an allowed CORS origin; non-browser clients send
// no Origin header.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn, s.snapshot)
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// snapshot is the current view a client receives on request, so a UI can
// render before the first event arrives.
func (s *Server) snapshot() any {
	devices := s.ctrl.Devices()
	out := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDeviceResponse(d))
	}
	return map[string]any{
		"devices":    out,
		"connection": s.ctrl.ConnectionState().String(),
		"telemetry":  s.telemetryResponse(),
	}
}

// close stops the write pump. Only the first call has an effect.
func (c *WSClient) close() {
	c.once.Do(func() { close(c.done) })
}

// enqueue queues data for the write pump and reports whether it was accepted.
func (c *WSClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	deadline := cfg.ReadDeadline()
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // first deadline; read errors surface below
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // any client frame counts as liveness
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		c.handle(data)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ping := time.NewTicker(cfg.PingPeriod())
	writeWait := cfg.WriteWait()
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // write error reported by WriteMessage
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-c.done:
			//nolint:errcheck // peer may already be gone
			write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case data := <-c.send:
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &sub) != nil || len(sub.Channels) == 0 {
			c.reply(req.ID, WSTypeError, errorPayload(req.Type+" needs a non-empty channels list"))
			return
		}
		key := "subscribed"
		if req.Type == WSTypeSubscribe {
			c.hub.subscribe(c, sub.Channels)
		} else {
			c.hub.unsubscribe(c, sub.Channels)
			key = "unsubscribed"
		}
		c.reply(req.ID, WSTypeResponse, map[string]any{key: sub.Channels})
	case WSTypeSnapshot:
		if c.snapshot == nil {
			c.reply(req.ID, WSTypeError, errorPayload("snapshot unavailable"))
			return
		}
		c.reply(req.ID, WSTypeResponse, c.snapshot())
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.reply(req.ID, WSTypeError, errorPayload("unknown message type: "+req.Type))
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func errorPayload(msg string) map[string]string {
	return map[string]string{"message": msg}
}
