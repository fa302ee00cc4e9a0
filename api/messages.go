package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/virtualpainter/painter/internal/canvas"
	"github.com/virtualpainter/painter/internal/gesture"
	"github.com/virtualpainter/painter/internal/unicodecheck"
)

// Client to server message types
const (
	TypeCreateSession   = "create_session"
	TypeJoinSession     = "join_session"
	TypeFrame           = "frame"
	TypeClearCanvas     = "clear_canvas"
	TypeChangeColor     = "change_color"
	TypeMouseDraw       = "mouse_draw"
	TypeDrawingUpdate   = "drawing_update"
	TypeUndo            = "undo"
	TypeRedo            = "redo"
	TypeChangeBrushSize = "change_brush_size"
)

// Server to client message types
const (
	TypeSessionCreated    = "session_created"
	TypeSessionJoined     = "session_joined"
	TypeError             = "error"
	TypeParticipantJoined = "participant_joined"
	TypeParticipantLeft   = "participant_left"
	TypeCanvasUpdate      = "canvas_update"
	TypeColorChanged      = "color_changed"
	TypeBrushSizeChanged  = "brush_size_changed"
	TypeHandPosition      = "hand_position"
)

// ClientMessage is one of the message variants a client may send. The set
// is closed: only types in this file implement it.
type ClientMessage interface {
	MessageType() string
}

// CreateSession registers a session if absent and binds the connection to it
type CreateSession struct {
	UserName  string `json:"user_name" validate:"required,max=100,safetext"`
	RoomID    string `json:"room_id" validate:"required,max=100,safetext"`
	SessionID string `json:"session_id" validate:"required,max=128,safetext"`
}

// JoinSession binds the connection to an existing or restorable session
type JoinSession struct {
	SessionID string `json:"session_id" validate:"required,max=128,safetext"`
	UserName  string `json:"user_name" validate:"required,max=100,safetext"`
}

// Frame carries one camera frame as a data URL. An empty frame is a frame
// decode failure, reported by the handler.
type Frame struct {
	Frame string `json:"frame"`
}

// ClearCanvas resets the session canvas
type ClearCanvas struct{}

// ChangeColor sets the session brush colour. Color is a hex string or an
// [r,g,b] array and is echoed to other members as sent.
type ChangeColor struct {
	Color json.RawMessage `json:"color" validate:"required"`

	rgba color.RGBA
}

// WirePoint is a pixel position as sent by pointer clients
type WirePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p WirePoint) pixel() canvas.Point {
	return canvas.Point{X: int(p.X), Y: int(p.Y)}
}

// MouseDraw is one pointer stroke segment
type MouseDraw struct {
	Start *WirePoint `json:"start" validate:"required"`
	End   *WirePoint `json:"end" validate:"required"`
	Color string     `json:"color" validate:"required,hexcolor"`

	rgba color.RGBA
}

// DrawingUpdate replaces the composite drawing layer
type DrawingUpdate struct {
	Drawing string `json:"drawing" validate:"required"`
	IsFinal bool   `json:"isFinal"`
}

// Undo reverts one canvas history step
type Undo struct{}

// Redo re-applies one undone history step
type Redo struct{}

// ChangeBrushSize sets the session brush size
type ChangeBrushSize struct {
	Size int `json:"size" validate:"min=1,max=100"`
}

func (*CreateSession) MessageType() string   { return TypeCreateSession }
func (*JoinSession) MessageType() string     { return TypeJoinSession }
func (*Frame) MessageType() string           { return TypeFrame }
func (*ClearCanvas) MessageType() string     { return TypeClearCanvas }
func (*ChangeColor) MessageType() string     { return TypeChangeColor }
func (*MouseDraw) MessageType() string       { return TypeMouseDraw }
func (*DrawingUpdate) MessageType() string   { return TypeDrawingUpdate }
func (*Undo) MessageType() string            { return TypeUndo }
func (*Redo) MessageType() string            { return TypeRedo }
func (*ChangeBrushSize) MessageType() string { return TypeChangeBrushSize }

var clientMessages = map[string]func() ClientMessage{
	TypeCreateSession:   func() ClientMessage { return &CreateSession{} },
	TypeJoinSession:     func() ClientMessage { return &JoinSession{} },
	TypeFrame:           func() ClientMessage { return &Frame{} },
	TypeClearCanvas:     func() ClientMessage { return &ClearCanvas{} },
	TypeChangeColor:     func() ClientMessage { return &ChangeColor{} },
	TypeMouseDraw:       func() ClientMessage { return &MouseDraw{} },
	TypeDrawingUpdate:   func() ClientMessage { return &DrawingUpdate{} },
	TypeUndo:            func() ClientMessage { return &Undo{} },
	TypeRedo:            func() ClientMessage { return &Redo{} },
	TypeChangeBrushSize: func() ClientMessage { return &ChangeBrushSize{} },
}

// normalizer is implemented by messages with checks beyond struct tags
type normalizer interface {
	normalize() error
}

func (m *ChangeColor) normalize() error {
	rgba, err := canvas.ParseColorValue(m.Color)
	if err != nil {
		return err
	}
	m.rgba = rgba
	return nil
}

func (m *MouseDraw) normalize() error {
	rgba, err := canvas.ParseHexColor(m.Color)
	if err != nil {
		return err
	}
	m.rgba = rgba
	return nil
}

func (m *DrawingUpdate) normalize() error {
	if !canvas.IsPNGDataURL(m.Drawing) {
		return errors.New("drawing must be a data:image/png;base64 URL")
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// safetext rejects invisible, reordering and control characters
	_ = v.RegisterValidation("safetext", func(fl validator.FieldLevel) bool {
		return unicodecheck.Safe(fl.Field().String())
	})
	return v
}

// DecodeClientMessage parses and validates one inbound message. Any failure
// is a *ProtocolError.
func DecodeClientMessage(raw []byte) (ClientMessage, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &ProtocolError{Reason: "malformed JSON", Err: err}
	}
	if envelope.Type == "" {
		return nil, &ProtocolError{Reason: "missing type"}
	}

	factory, ok := clientMessages[envelope.Type]
	if !ok {
		return nil, &ProtocolError{MessageType: envelope.Type, Reason: "unsupported message type"}
	}

	msg := factory()
	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, &ProtocolError{MessageType: envelope.Type, Reason: "malformed fields", Err: err}
	}
	if err := validate.Struct(msg); err != nil {
		return nil, &ProtocolError{MessageType: envelope.Type, Reason: describeValidation(err)}
	}
	if n, ok := msg.(normalizer); ok {
		if err := n.normalize(); err != nil {
			return nil, &ProtocolError{MessageType: envelope.Type, Err: err}
		}
	}
	return msg, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// SessionCreatedMessage replies to create_session
type SessionCreatedMessage struct {
	Type         string `json:"type"`
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	SessionID    string `json:"session_id"`
	RoomID       string `json:"room_id"`
	Canvas       string `json:"canvas"`
	Participants int    `json:"participants"`
}

// SessionJoinedMessage replies to join_session
type SessionJoinedMessage struct {
	Type         string  `json:"type"`
	Success      bool    `json:"success"`
	Message      string  `json:"message"`
	SessionID    string  `json:"session_id"`
	RoomID       string  `json:"room_id"`
	Canvas       string  `json:"canvas"`
	Drawing      *string `json:"drawing"`
	Participants int     `json:"participants"`
}

// ErrorMessage reports a failed request to its sender only
type ErrorMessage struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// ParticipantsMessage is participant_joined or participant_left
type ParticipantsMessage struct {
	Type         string `json:"type"`
	Participants int    `json:"participants"`
}

// CanvasUpdateMessage carries the full session raster
type CanvasUpdateMessage struct {
	Type   string `json:"type"`
	Canvas string `json:"canvas"`
}

// ColorChangedMessage echoes a change_color value
type ColorChangedMessage struct {
	Type  string          `json:"type"`
	Color json.RawMessage `json:"color"`
}

// BrushSizeChangedMessage echoes a change_brush_size value
type BrushSizeChangedMessage struct {
	Type string `json:"type"`
	Size int    `json:"size"`
}

// MouseDrawMessage forwards a pointer segment
type MouseDrawMessage struct {
	Type  string    `json:"type"`
	Start WirePoint `json:"start"`
	End   WirePoint `json:"end"`
	Color string    `json:"color"`
}

// DrawingUpdateMessage forwards a composite drawing layer
type DrawingUpdateMessage struct {
	Type    string `json:"type"`
	Drawing string `json:"drawing"`
}

// HandPositionMessage reports the tracked fingertip to the driving connection
type HandPositionMessage struct {
	Type     string          `json:"type"`
	Position canvas.Position `json:"position"`
	Mode     string          `json:"mode"`
}

// GestureEventMessage is gesture_start, gesture_point, gesture_complete or
// gesture_action
type GestureEventMessage struct {
	Type     string           `json:"type"`
	Gesture  string           `json:"gesture,omitempty"`
	Point    *canvas.Position `json:"point,omitempty"`
	Previous string           `json:"previous,omitempty"`
	Action   string           `json:"action,omitempty"`
}

func gestureEventMessage(ev gesture.Event) GestureEventMessage {
	msg := GestureEventMessage{Type: string(ev.Type)}
	switch ev.Type {
	case gesture.EventStart:
		msg.Gesture = string(ev.Gesture)
	case gesture.EventPoint:
		msg.Gesture = string(ev.Gesture)
		p := ev.Point
		msg.Point = &p
	case gesture.EventComplete:
		msg.Previous = string(ev.Previous)
	case gesture.EventAction:
		msg.Action = ev.Action
	}
	return msg
}

func newErrorMessage(message, code string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Success: false, Message: message, ErrorCode: code}
}
