package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/cuebox/internal/engine"
	"github.com/nerrad567/cuebox/internal/infrastructure/config"
	"github.com/nerrad567/cuebox/internal/infrastructure/logging"
)

// Message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// WSChannelAll subscribes a client to every channel.
const WSChannelAll = "*"

// Snapshot events are sent once to a client when it subscribes to the
// matching channel, so it starts from the current state.
const (
	WSEventStateSnapshot    = "state.snapshot"
	WSEventProfilesSnapshot = "profiles.snapshot"
)

const (
	wsSendBufferSize = 256

	// A slow client's dropped events are logged on the first drop and
	// every wsDropLogEvery after that.
	wsDropLogEvery = 100

	defaultMaxMessageSize = 8192 // bytes
	defaultPingInterval   = 30   // seconds
	defaultPongTimeout    = 10   // seconds
)

// WSMessage is a message sent to a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is a message received from a client.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Snapshotter supplies the snapshot sent when a client subscribes to a
// channel. ok is false for channels without one.
type Snapshotter interface {
	Snapshot(channel string) (event string, payload any, ok bool)
}

// Hub fans engine events out to WebSocket clients by channel:
// engine.ChannelStateChanged, engine.ChannelProfilesChanged and
// engine.ChannelAutomationFinished, or WSChannelAll for all of them.
type Hub struct {
	cfg       config.WebSocketConfig
	logger    *logging.Logger
	snapshots Snapshotter

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

var _ engine.Observer = (*Hub)(nil)

// WSClient is one connection.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string // token subject from the ticket

	mu            sync.RWMutex
	send          chan []byte
	closed        bool
	subscriptions map[string]struct{}
	dropped       uint64
}

// Origins are checked by the CORS middleware.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewHub creates a hub. Unset limits take their defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// SetSnapshotter sets the source of subscribe-time snapshots.
func (h *Hub) SetSnapshotter(s Snapshotter) {
	h.snapshots = s
}

func (h *Hub) pingInterval() time.Duration {
	return time.Duration(h.cfg.PingInterval) * time.Second
}

func (h *Hub) pongWait() time.Duration {
	return time.Duration(h.cfg.PongTimeout) * time.Second
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", n)
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast implements engine.Observer. The event is encoded once and
// queued on every subscribed client; full client buffers drop it.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodeEvent(channel, payload)
	if err != nil {
		h.logger.Error("failed to encode websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.subscribed(channel) {
			c.enqueue(data)
		}
	}
}

func encodeEvent(event string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// knownChannel reports whether clients may subscribe to ch.
func knownChannel(ch string) bool {
	switch ch {
	case WSChannelAll, engine.ChannelStateChanged, engine.ChannelProfilesChanged, engine.ChannelAutomationFinished:
		return true
	default:
		return false
	}
}

// handleWebSocket upgrades the connection. With auth enabled a single-use
// ticket from POST /auth/ws-ticket is required in the query string.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var subject string
	if s.authEnabled() {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeError(w, http.StatusUnauthorized, "ticket query parameter is required")
			return
		}
		entry, ok := s.tickets.consume(ticket)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid or expired ticket")
			return
		}
		subject = entry.subject
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:           s.hub,
		conn:          conn,
		subject:       subject,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(c)

	go c.writePump()
	go c.readPump()
}

// readPump reads client requests until the connection fails. Any message,
// not only a pong, extends the read deadline.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	wait := c.hub.pingInterval() + c.hub.pongWait()
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(wait)) }

	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
		extend() //nolint:errcheck // a failed deadline surfaces as a read error
		c.handle(data)
	}
}

// writePump drains the send channel and pings on the configured interval.
// It exits when the channel is closed or a write fails.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(messageType int, data []byte) error {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.pongWait())); err != nil {
			return err
		}
		return c.conn.WriteMessage(messageType, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle processes one client request.
func (c *WSClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if err := json.Unmarshal(req.Payload, &sub); err != nil || len(sub.Channels) == 0 {
			c.reply(req.ID, WSTypeError, errorPayload("payload must list channels"))
			return
		}
		for _, ch := range sub.Channels {
			if !knownChannel(ch) {
				c.reply(req.ID, WSTypeError, errorPayload("unknown channel: "+ch))
				return
			}
		}
		if req.Type == WSTypeSubscribe {
			c.subscribe(req.ID, sub.Channels)
		} else {
			c.unsubscribe(req.ID, sub.Channels)
		}
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.reply(req.ID, WSTypeError, errorPayload("unknown message type: "+req.Type))
	}
}

// subscribe adds channels, confirms, then sends a snapshot for each newly
// subscribed channel that has one.
func (c *WSClient) subscribe(id string, channels []string) {
	c.mu.Lock()
	var added []string
	for _, ch := range channels {
		if _, ok := c.subscriptions[ch]; !ok {
			c.subscriptions[ch] = struct{}{}
			added = append(added, ch)
		}
	}
	c.mu.Unlock()

	c.hub.logger.Info("websocket client subscribed", "channels", channels, "subject", c.subject)
	c.reply(id, WSTypeResponse, map[string]any{"subscribed": channels})

	if c.hub.snapshots == nil {
		return
	}
	for _, ch := range expandChannels(added) {
		event, payload, ok := c.hub.snapshots.Snapshot(ch)
		if !ok {
			continue
		}
		if data, err := encodeEvent(event, payload); err == nil {
			c.enqueue(data)
		}
	}
}

func (c *WSClient) unsubscribe(id string, channels []string) {
	c.mu.Lock()
	for _, ch := range channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.reply(id, WSTypeResponse, map[string]any{"unsubscribed": channels})
}

// expandChannels replaces WSChannelAll with the channels it covers.
func expandChannels(channels []string) []string {
	for _, ch := range channels {
		if ch == WSChannelAll {
			return []string{engine.ChannelStateChanged, engine.ChannelProfilesChanged, engine.ChannelAutomationFinished}
		}
	}
	return channels
}

func (c *WSClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.subscriptions[WSChannelAll]; ok {
		return true
	}
	_, ok := c.subscriptions[channel]
	return ok
}

// enqueue queues data unless the client is closed or its buffer is full.
func (c *WSClient) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.dropped++
		if c.dropped%wsDropLogEvery == 1 {
			c.hub.logger.Warn("websocket client too slow, dropping events",
				"subject", c.subject, "dropped", c.dropped)
		}
	}
}

// close closes the send channel once.
func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
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

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
