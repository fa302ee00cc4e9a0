// Package persistence provides durable storage for sessions and canvas
// snapshots behind a narrow gateway contract.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Operation names, used in errors, logs and metrics
const (
	OpGetSession         = "get_session"
	OpCreateUser         = "create_user"
	OpUpdateCanvasState  = "update_canvas_state"
	OpListActiveSessions = "list_active_sessions"
)

var (
	// ErrNotFound is returned by GetSession when the backend has no such session
	ErrNotFound = errors.New("session not found")
	// ErrCircuitOpen is returned once the gateway has been disabled by repeated failures
	ErrCircuitOpen = errors.New("persistence circuit open")
)

// Error reports a failed gateway operation
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusError is a non-success response from an HTTP backend
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the request could succeed
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// SessionRecord is the durable view of a session. Image fields hold PNG data
// URLs, empty when the backend has no snapshot.
type SessionRecord struct {
	SessionID        string
	RoomID           string
	CreatedBy        string
	Participants     int
	CreatedAt        time.Time
	CanvasData       string
	DrawingLayerData string
}

// Gateway is the durability backend contract. Every call may fail; callers
// treat failures as non-fatal.
type Gateway interface {
	// GetSession returns ErrNotFound when the session does not exist
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)
	CreateUser(ctx context.Context, userName, sessionID, roomID string) error
	UpdateCanvasState(ctx context.Context, sessionID, imageDataURL string, isDrawingLayer bool) error
	// ListActiveSessions returns the sessions the backend still considers live
	ListActiveSessions(ctx context.Context) ([]SessionRecord, error)
}

// SessionDeleter is implemented by gateways that can remove a session
type SessionDeleter interface {
	DeleteSession(ctx context.Context, sessionID string) error
}
