package api

import (
	"fmt"
)

// Error codes carried by error replies
const (
	ErrCodeSessionNotFound = "session_not_found"
	ErrCodeNoActiveSession = "no_active_session"
)

// ProtocolError reports a malformed message or an unknown message type
type ProtocolError struct {
	MessageType string
	Reason      string
	Err         error
}

func (e *ProtocolError) Error() string {
	msg := "invalid message"
	if e.MessageType != "" {
		msg = fmt.Sprintf("invalid %s message", e.MessageType)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// SessionError reports a missing session, identified by Code
type SessionError struct {
	Code      string
	SessionID string
	// Err is the backend failure behind a failed restore, if any
	Err error
}

func (e *SessionError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.SessionID)
	}
	return e.Code
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// userMessage is the text shown to the client
func (e *SessionError) userMessage() string {
	switch e.Code {
	case ErrCodeSessionNotFound:
		return "Session not found or has expired. Please create a new session."
	case ErrCodeNoActiveSession:
		return "No active session. Please create or join a session."
	default:
		return "Session error"
	}
}

// FrameDecodeError reports frame bytes that do not decode to an image
type FrameDecodeError struct {
	Err error
}

func (e *FrameDecodeError) Error() string {
	return fmt.Sprintf("invalid frame data: %v", e.Err)
}

func (e *FrameDecodeError) Unwrap() error {
	return e.Err
}
