package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/virtualpainter/painter/internal/config"
	"github.com/virtualpainter/painter/internal/persistence"
)

// ServerOptions wires a Server
type ServerOptions struct {
	Registry *SessionRegistry
	Handler  *ConnectionHandler
	Hub      *WebSocketHub
	Health   *HealthChecker
	// Metrics serves /metrics; nil leaves the route unregistered
	Metrics http.Handler
	// Settings lists the effective configuration for /api/config
	Settings func() []config.Setting
	// Deleter removes administratively deleted sessions from the backend
	Deleter persistence.SessionDeleter
	// Retention enables the reaper when TTL is positive
	RetentionTTL time.Duration
	ReapInterval time.Duration
}

// Server is the painter HTTP and websocket server
type Server struct {
	registry *SessionRegistry
	handler  *ConnectionHandler
	wsHub    *WebSocketHub
	health   *HealthChecker
	metrics  http.Handler
	settings func() []config.Setting
	deleter  persistence.SessionDeleter
	reaper   *Reaper
	started  time.Time
}

// NewServer creates a server instance
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		registry: opts.Registry,
		handler:  opts.Handler,
		wsHub:    opts.Hub,
		health:   opts.Health,
		metrics:  opts.Metrics,
		settings: opts.Settings,
		deleter:  opts.Deleter,
		started:  time.Now().UTC(),
	}
	if s.health == nil {
		s.health = NewHealthChecker(time.Second, nil, nil, nil)
	}
	if opts.RetentionTTL > 0 {
		s.reaper = NewReaper(opts.Registry, opts.RetentionTTL, opts.ReapInterval)
	}
	return s
}

// RegisterHandlers registers the websocket endpoint and the admin API
func (s *Server) RegisterHandlers(r *gin.Engine) {
	r.GET("/", s.HandleWebSocket)
	r.GET("/ws", s.HandleWebSocket)

	r.GET("/health", s.GetHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	admin := r.Group("/api")
	admin.GET("/sessions", s.ListSessions)
	admin.GET("/sessions/:id", s.GetSession)
	admin.DELETE("/sessions/:id", s.DeleteSession)
	admin.GET("/config", s.GetConfig)
}

// HandleWebSocket handles websocket connections
func (s *Server) HandleWebSocket(c *gin.Context) {
	s.wsHub.HandleWS(c)
}

// StartReaper runs the retention reaper until ctx ends. It returns at once
// when sessions are retained indefinitely.
func (s *Server) StartReaper(ctx context.Context) {
	if s.reaper == nil {
		return
	}
	go s.reaper.Run(ctx)
}

// Shutdown closes all websocket connections
func (s *Server) Shutdown(ctx context.Context) error {
	return s.wsHub.Shutdown(ctx)
}
