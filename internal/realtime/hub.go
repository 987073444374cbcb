package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/parkpal/pkg/logger"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 64 << 10

	clientQueueSize = 64
)

// Message is the JSON frame written to websocket clients.
type Message struct {
	Stream string `json:"stream"`
	Event  string `json:"event"`
	Data   any    `json:"data,omitempty"`
}

// clientCommand lets a connected client change its streams or check liveness.
type clientCommand struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

// Hub fans out push requests, notification history changes and report
// snapshots to the websocket connections of each user.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

// NewHub constructs a realtime hub.
func NewHub() *Hub {
	return &Hub{
		log:     logger.WithModule("realtime"),
		clients: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOriginOrLoopback,
		},
	}
}

// Serve upgrades the request and keeps the connection of userID open until the
// client goes away. Streams outside allowed are ignored; a nil allowed set
// permits every stream.
func (h *Hub) Serve(userID string, streams []string, allowed map[string]struct{}, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	c := &client{
		hub:     h,
		conn:    conn,
		userID:  userID,
		allowed: allowed,
		streams: make(map[string]struct{}),
		send:    make(chan Message, clientQueueSize),
	}

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]struct{})
	}
	h.clients[userID][c] = struct{}{}
	c.join(uniqueStreams(streams))
	h.mu.Unlock()

	go c.writeLoop()
	c.readLoop()
}

// BroadcastToUser delivers message to the connections of userID listening on stream.
func (h *Hub) BroadcastToUser(stream, userID string, message Message) {
	stream = normalizeStream(stream)
	if stream == "" || userID == "" {
		return
	}
	message.Stream = stream

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		if c.listens(stream) {
			c.enqueue(message)
		}
	}
}

// BroadcastStream delivers message to every connection listening on stream.
func (h *Hub) BroadcastStream(stream string, message Message) {
	stream = normalizeStream(stream)
	if stream == "" {
		return
	}
	message.Stream = stream

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conns := range h.clients {
		for c := range conns {
			if c.listens(stream) {
				c.enqueue(message)
			}
		}
	}
}

// Subscribers returns how many connections of userID listen on stream.
func (h *Hub) Subscribers(stream, userID string) int {
	stream = normalizeStream(stream)

	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for c := range h.clients[userID] {
		if c.listens(stream) {
			count++
		}
	}
	return count
}

func (h *Hub) handle(c *client, cmd clientCommand) {
	streams := uniqueStreams(cmd.Streams)

	h.mu.Lock()
	defer h.mu.Unlock()
	switch strings.ToLower(strings.TrimSpace(cmd.Action)) {
	case "subscribe":
		c.join(streams)
	case "unsubscribe":
		for _, stream := range streams {
			delete(c.streams, stream)
		}
	case "ping":
		c.enqueue(Message{Event: "pong"})
	default:
		h.log.Debug("unsupported client action", zap.String("action", cmd.Action), zap.String("user_id", c.userID))
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.closed = true
	if conns := h.clients[c.userID]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, c.userID)
		}
	}
}

// client is one websocket connection. streams and closed are guarded by hub.mu.
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	userID  string
	allowed map[string]struct{}
	streams map[string]struct{}
	send    chan Message
	closed  bool
	once    sync.Once
}

func (c *client) join(streams []string) {
	for _, stream := range streams {
		if _, ok := c.allowed[stream]; c.allowed != nil && !ok {
			c.hub.log.Debug("ignoring unknown stream", zap.String("stream", stream), zap.String("user_id", c.userID))
			continue
		}
		c.streams[stream] = struct{}{}
	}
}

func (c *client) listens(stream string) bool {
	_, ok := c.streams[stream]
	return ok
}

// enqueue must be called with hub.mu held. Clients that cannot keep up are dropped.
func (c *client) enqueue(message Message) {
	if c.closed {
		return
	}
	select {
	case c.send <- message:
	default:
		c.hub.log.Warn("dropping slow realtime client", zap.String("user_id", c.userID))
		go c.close()
	}
}

func (c *client) readLoop() {
	defer c.close()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket closed unexpectedly", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			c.hub.log.Debug("ignoring malformed client frame", zap.String("user_id", c.userID), zap.Error(err))
			continue
		}
		c.hub.handle(c, cmd)
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		c.hub.remove(c)
		close(c.send)
		_ = c.conn.Close()
	})
}

// sameOriginOrLoopback accepts native clients (no Origin header), pages served
// from the API host and local development origins.
func sameOriginOrLoopback(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := parsed.Hostname()
	if strings.EqualFold(originHost, stripPort(r.Host)) {
		return true
	}
	if strings.EqualFold(originHost, "localhost") {
		return true
	}
	ip := net.ParseIP(originHost)
	return ip != nil && ip.IsLoopback()
}

func stripPort(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}

func normalizeStream(stream string) string {
	return strings.ToLower(strings.TrimSpace(stream))
}

func uniqueStreams(streams []string) []string {
	seen := make(map[string]struct{}, len(streams))
	out := make([]string, 0, len(streams))
	for _, stream := range streams {
		stream = normalizeStream(stream)
		if stream == "" {
			continue
		}
		if _, ok := seen[stream]; ok {
			continue
		}
		seen[stream] = struct{}{}
		out = append(out, stream)
	}
	return out
}
