package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/net/idna"

	"github.com/virtualpainter/painter/internal/slogging"
	"github.com/virtualpainter/painter/internal/telemetry"
	"github.com/virtualpainter/painter/internal/uuidgen"
)

// TransportConfig configures websocket connections
type TransportConfig struct {
	SendBufferSize  int
	MaxMessageBytes int64
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	// AllowedOrigins limits upgrades by Origin header; empty allows any
	AllowedOrigins []string
	Logging        slogging.WebSocketLoggingConfig
}

// DefaultTransportConfig returns the transport defaults
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		SendBufferSize:  256,
		MaxMessageBytes: 8 << 20,
		PingInterval:    30 * time.Second,
		PongTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
	}
}

// WebSocketHub upgrades HTTP requests to websocket connections and tracks
// them until they close
type WebSocketHub struct {
	handler  *ConnectionHandler
	config   TransportConfig
	metrics  *telemetry.Metrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*WebSocketClient
	wg      sync.WaitGroup
}

// NewWebSocketHub creates a hub dispatching inbound messages to handler
func NewWebSocketHub(handler *ConnectionHandler, config TransportConfig, metrics *telemetry.Metrics) *WebSocketHub {
	d := DefaultTransportConfig()
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = d.SendBufferSize
	}
	if config.MaxMessageBytes <= 0 {
		config.MaxMessageBytes = d.MaxMessageBytes
	}
	if config.PingInterval <= 0 {
		config.PingInterval = d.PingInterval
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = d.PongTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = d.WriteTimeout
	}

	return &WebSocketHub{
		handler: handler,
		config:  config,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(config.AllowedOrigins),
		},
		clients: make(map[string]*WebSocketClient),
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	canonical := make([]string, 0, len(allowed))
	for _, origin := range allowed {
		if c, ok := canonicalOrigin(origin); ok {
			canonical = append(canonical, c)
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		c, ok := canonicalOrigin(origin)
		return ok && slices.Contains(canonical, c)
	}
}

// canonicalOrigin lowercases scheme and host and converts an
// internationalized host to its ASCII (punycode) form
func canonicalOrigin(origin string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	host, err := idna.Lookup.ToASCII(u.Hostname())
	if err != nil {
		return "", false
	}
	host = strings.ToLower(host)
	if port := u.Port(); port != "" {
		host = net.JoinHostPort(host, port)
	}
	return strings.ToLower(u.Scheme) + "://" + host, true
}

// HandleWS serves one websocket connection until it closes
func (h *WebSocketHub) HandleWS(c *gin.Context) {
	logger := slogging.GetContextLogger(c)
	if h.closing() {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Failed to upgrade connection from %s: %v", c.ClientIP(), err)
		return
	}

	client := &WebSocketClient{
		id:     uuidgen.NewString(uuidgen.KindConnection),
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.config.SendBufferSize),
		closed: make(chan struct{}),
	}
	if !h.track(client) {
		_ = conn.Close()
		return
	}
	defer h.untrack(client)

	ctx := c.Request.Context()
	h.metrics.ConnectionOpened(ctx)
	defer h.metrics.ConnectionClosed(context.WithoutCancel(ctx))
	slogging.LogWebSocketConnection("connected", client.id, "", h.config.Logging)
	logger.Info("WebSocket connection %s opened from %s", client.id, c.ClientIP())

	go client.WritePump()
	client.ReadPump(ctx)

	slogging.LogWebSocketConnection("disconnected", client.id, "", h.config.Logging)
	logger.Info("WebSocket connection %s closed", client.id)
}

// track registers client unless the hub is shutting down
func (h *WebSocketHub) track(client *WebSocketClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients == nil {
		return false
	}
	h.clients[client.id] = client
	h.wg.Add(1)
	return true
}

func (h *WebSocketHub) closing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients == nil
}

func (h *WebSocketHub) untrack(client *WebSocketClient) {
	h.mu.Lock()
	delete(h.clients, client.id)
	h.mu.Unlock()
	h.wg.Done()
}

// Connections returns the number of open connections
func (h *WebSocketHub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every connection and waits for their handlers to return
// or ctx to end. Later upgrades are refused.
func (h *WebSocketHub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	clients := make([]*WebSocketClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = nil
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WebSocketClient is one connected participant
type WebSocketClient struct {
	id   string
	hub  *WebSocketHub
	conn *websocket.Conn
	// send is never closed; closed signals shutdown instead
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// ID returns the connection id
func (c *WebSocketClient) ID() string {
	return c.id
}

// Enqueue queues msg for the write pump without blocking
func (c *WebSocketClient) Enqueue(msg []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which closes the underlying connection
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *WebSocketClient) sessionID() string {
	if s, ok := c.hub.handler.registry.SessionFor(c.id); ok {
		return s.ID
	}
	return ""
}

// ReadPump reads messages and hands them to the connection handler until
// the connection fails or closes
func (c *WebSocketClient) ReadPump(ctx context.Context) {
	cfg := c.hub.config
	defer func() {
		c.hub.handler.Disconnect(context.WithoutCancel(ctx), c)
		c.Close()
	}()

	c.conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slogging.Get().Warn("WebSocket read error on connection %s: %v", c.id, err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		if cfg.Logging.Enabled {
			slogging.LogWebSocketMessage(slogging.WSMessageInbound, c.sessionID(), c.id, peekType(message), message, cfg.Logging)
		}
		c.hub.handler.HandleMessage(ctx, c, message)
	}
}

// WritePump writes queued messages, one per frame, and pings the peer
func (c *WebSocketClient) WritePump() {
	cfg := c.hub.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slogging.Get().Debug("WebSocket write failed on connection %s: %v", c.id, err)
				return
			}
			if cfg.Logging.Enabled {
				slogging.LogWebSocketMessage(slogging.WSMessageOutbound, c.sessionID(), c.id, peekType(message), message, cfg.Logging)
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(cfg.WriteTimeout))
			return
		}
	}
}

// peekType extracts the type field for logging, or "" for non-JSON payloads
func peekType(message []byte) string {
	var envelope struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(message, &envelope) != nil {
		return ""
	}
	return envelope.Type
}
