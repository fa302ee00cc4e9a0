package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/virtualpainter/painter/internal/slogging"
)

// ErrorResponse is the JSON body of a failed admin request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	SystemHealthResult
	Version     Version `json:"version"`
	Uptime      string  `json:"uptime"`
	Sessions    int     `json:"sessions"`
	Connections int     `json:"connections"`
}

// SessionSummary describes one in-memory session
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	RoomID       string    `json:"room_id"`
	Participants int       `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

func summarize(s *Session) SessionSummary {
	return SessionSummary{
		SessionID:    s.ID,
		RoomID:       s.RoomID,
		Participants: s.Participants(),
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity().UTC(),
	}
}

// GetHealth reports liveness and persistence state. It answers 503 only
// when a configured Redis backend does not respond.
func (s *Server) GetHealth(c *gin.Context) {
	result := s.health.CheckHealth(c.Request.Context())

	status := http.StatusOK
	if result.Overall == ComponentHealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, HealthResponse{
		SystemHealthResult: result,
		Version:            GetVersion(),
		Uptime:             time.Since(s.started).Truncate(time.Second).String(),
		Sessions:           s.registry.Len(),
		Connections:        s.wsHub.Connections(),
	})
}

// ListSessions returns every in-memory session
func (s *Server) ListSessions(c *gin.Context) {
	sessions := s.registry.Sessions()
	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, summarize(sess))
	}
	c.JSON(http.StatusOK, out)
}

// GetSession returns one in-memory session
func (s *Server) GetSession(c *gin.Context) {
	sess, ok := s.registry.Lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Session not found"})
		return
	}
	c.JSON(http.StatusOK, summarize(sess))
}

// DeleteSession removes a session from memory, tells its members and, when
// the backend supports it, deletes the durable copy
func (s *Server) DeleteSession(c *gin.Context) {
	logger := slogging.Get().WithContext(c)
	id := c.Param("id")

	sess, peers, ok := s.registry.Remove(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Session not found"})
		return
	}

	notice := encode(newErrorMessage("Session was closed by an administrator.", ErrCodeSessionNotFound))
	sess.Publish(func() {
		for _, p := range peers {
			s.handler.hub.Send(c.Request.Context(), id, p, TypeError, notice)
		}
	})

	if s.deleter != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()
		if err := s.deleter.DeleteSession(ctx, id); err != nil {
			logger.Warn("Failed to delete session %s from backend: %v", id, err)
		}
	}

	logger.Info("Session %s deleted by administrator (%d members unbound)", id, len(peers))
	c.Status(http.StatusNoContent)
}

// GetConfig returns the effective non-secret configuration
func (s *Server) GetConfig(c *gin.Context) {
	if s.settings == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, s.settings())
}
