package api

import (
	"context"
	"errors"
	"image"
	"runtime/debug"
	"time"

	"github.com/virtualpainter/painter/internal/canvas"
	"github.com/virtualpainter/painter/internal/gesture"
	"github.com/virtualpainter/painter/internal/slogging"
	"github.com/virtualpainter/painter/internal/telemetry"
	"github.com/virtualpainter/painter/internal/unicodecheck"
)

// Persister queues durability writes off the message path. Both calls report
// whether the write was accepted.
type Persister interface {
	UpdateCanvasState(sessionID, imageDataURL string, isDrawingLayer bool) bool
	CreateUser(userName, sessionID, roomID string) bool
}

type nopPersister struct{}

func (nopPersister) UpdateCanvasState(string, string, bool) bool { return true }
func (nopPersister) CreateUser(string, string, string) bool      { return true }

// HandlerOptions configures a ConnectionHandler
type HandlerOptions struct {
	Registry  *SessionRegistry
	Hub       *BroadcastHub
	Persister Persister
	Source    gesture.Source
	Metrics   *telemetry.Metrics
	// FrameTimeout bounds one gesture source call; zero leaves it unbounded
	FrameTimeout time.Duration
}

type messageHandler func(ctx context.Context, peer Peer, msg ClientMessage) error

type sessionHandler func(ctx context.Context, peer Peer, s *Session, msg ClientMessage) error

// ConnectionHandler decodes inbound messages and applies them to sessions.
// It holds no per-connection state; bindings live in the registry.
type ConnectionHandler struct {
	registry     *SessionRegistry
	hub          *BroadcastHub
	persist      Persister
	source       gesture.Source
	metrics      *telemetry.Metrics
	frameTimeout time.Duration
	handlers     map[string]messageHandler
}

// NewConnectionHandler creates a handler with the full dispatch table
func NewConnectionHandler(opts HandlerOptions) *ConnectionHandler {
	h := &ConnectionHandler{
		registry:     opts.Registry,
		hub:          opts.Hub,
		persist:      opts.Persister,
		source:       opts.Source,
		metrics:      opts.Metrics,
		frameTimeout: opts.FrameTimeout,
	}
	if h.hub == nil {
		h.hub = NewBroadcastHub(opts.Metrics)
	}
	if h.persist == nil {
		h.persist = nopPersister{}
	}
	if h.source == nil {
		h.source = gesture.NoneSource{}
	}

	h.handlers = map[string]messageHandler{
		TypeCreateSession:   h.handleCreateSession,
		TypeJoinSession:     h.handleJoinSession,
		TypeFrame:           h.bound(h.handleFrame),
		TypeClearCanvas:     h.bound(h.handleClearCanvas),
		TypeChangeColor:     h.bound(h.handleChangeColor),
		TypeMouseDraw:       h.bound(h.handleMouseDraw),
		TypeDrawingUpdate:   h.bound(h.handleDrawingUpdate),
		TypeUndo:            h.bound(h.handleUndo),
		TypeRedo:            h.bound(h.handleRedo),
		TypeChangeBrushSize: h.bound(h.handleChangeBrushSize),
	}
	return h
}

// HandleMessage processes one raw inbound message from peer. Failures are
// reported to peer only; a panic is recovered and the connection survives.
func (h *ConnectionHandler) HandleMessage(ctx context.Context, peer Peer, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			slogging.Get().Error("PANIC handling message - connection: %s, error: %v, stack: %s",
				peer.ID(), r, debug.Stack())
			h.reply(ctx, peer, "", TypeError, encode(newErrorMessage("Internal error processing message", "")))
		}
	}()

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		h.metrics.MessageReceived(ctx, "invalid")
		h.replyError(ctx, peer, err)
		return
	}
	h.metrics.MessageReceived(ctx, msg.MessageType())

	handler, ok := h.handlers[msg.MessageType()]
	if !ok {
		h.replyError(ctx, peer, &ProtocolError{MessageType: msg.MessageType(), Reason: "unsupported message type"})
		return
	}
	if err := handler(ctx, peer, msg); err != nil {
		h.replyError(ctx, peer, err)
	}
}

// Disconnect unbinds peer and tells the remaining members
func (h *ConnectionHandler) Disconnect(ctx context.Context, peer Peer) {
	s, remaining, ok := h.registry.Leave(peer.ID())
	if !ok {
		return
	}
	slogging.Get().Info("Connection %s left session %s (%d remaining)", peer.ID(), s.ID, remaining)
	h.notifyParticipants(ctx, s, TypeParticipantLeft, remaining, "")
}

// bound resolves the session peer is bound to. Frames from an unbound
// connection are dropped silently; anything else gets no_active_session.
func (h *ConnectionHandler) bound(next sessionHandler) messageHandler {
	return func(ctx context.Context, peer Peer, msg ClientMessage) error {
		s, ok := h.registry.SessionFor(peer.ID())
		if !ok {
			if msg.MessageType() == TypeFrame {
				h.metrics.RecordFrame(ctx, telemetry.FrameDropped, 0)
				return nil
			}
			return &SessionError{Code: ErrCodeNoActiveSession}
		}
		return next(ctx, peer, s, msg)
	}
}

func (h *ConnectionHandler) handleCreateSession(ctx context.Context, peer Peer, msg ClientMessage) error {
	req := msg.(*CreateSession)

	b := h.registry.Create(req.SessionID, req.RoomID, peer)
	h.leftPrevious(ctx, b)
	if !h.persist.CreateUser(req.UserName, req.SessionID, req.RoomID) {
		slogging.Get().Warn("Could not queue user %s for session %s; continuing in memory",
			unicodecheck.SanitizeForLogging(req.UserName), req.SessionID)
	}

	s := b.Session
	s.Apply(func(st *SessionState) func() {
		raster := st.Canvas.Raster()
		return func() {
			h.reply(ctx, peer, s.ID, TypeSessionCreated, encode(SessionCreatedMessage{
				Type:         TypeSessionCreated,
				Success:      true,
				Message:      "Successfully created session",
				SessionID:    s.ID,
				RoomID:       s.RoomID,
				Canvas:       encodeRaster(s.ID, raster),
				Participants: b.Participants,
			}))
			h.hub.Broadcast(ctx, s, TypeParticipantJoined,
				encode(ParticipantsMessage{Type: TypeParticipantJoined, Participants: b.Participants}), peer.ID())
		}
	})
	return nil
}

func (h *ConnectionHandler) handleJoinSession(ctx context.Context, peer Peer, msg ClientMessage) error {
	req := msg.(*JoinSession)

	b, err := h.registry.Join(ctx, req.SessionID, peer)
	if err != nil {
		return err
	}
	h.leftPrevious(ctx, b)

	s := b.Session
	if !h.persist.CreateUser(req.UserName, s.ID, s.RoomID) {
		slogging.Get().Warn("Could not queue user %s for session %s; continuing in memory",
			unicodecheck.SanitizeForLogging(req.UserName), s.ID)
	}

	s.Apply(func(st *SessionState) func() {
		raster, layer := st.Canvas.Raster(), st.DrawingLayer
		return func() {
			reply := SessionJoinedMessage{
				Type:         TypeSessionJoined,
				Success:      true,
				Message:      "Successfully joined session",
				SessionID:    s.ID,
				RoomID:       s.RoomID,
				Canvas:       encodeRaster(s.ID, raster),
				Participants: b.Participants,
			}
			if layer != "" {
				reply.Drawing = &layer
			}
			h.reply(ctx, peer, s.ID, TypeSessionJoined, encode(reply))
			h.hub.Broadcast(ctx, s, TypeParticipantJoined,
				encode(ParticipantsMessage{Type: TypeParticipantJoined, Participants: b.Participants}), peer.ID())
		}
	})
	return nil
}

// leftPrevious tells the members of a session the connection switched away from
func (h *ConnectionHandler) leftPrevious(ctx context.Context, b Binding) {
	if b.Previous == nil {
		return
	}
	h.notifyParticipants(ctx, b.Previous, TypeParticipantLeft, b.PreviousParticipants, "")
}

func (h *ConnectionHandler) notifyParticipants(ctx context.Context, s *Session, messageType string, count int, excluding string) {
	if count == 0 {
		return
	}
	payload := encode(ParticipantsMessage{Type: messageType, Participants: count})
	s.Publish(func() {
		h.hub.Broadcast(ctx, s, messageType, payload, excluding)
	})
}

func (h *ConnectionHandler) handleFrame(ctx context.Context, peer Peer, s *Session, msg ClientMessage) error {
	req := msg.(*Frame)
	start := time.Now()

	img, err := canvas.DecodeDataURL(req.Frame)
	if err != nil {
		h.metrics.RecordFrame(ctx, telemetry.FrameError, time.Since(start))
		return &FrameDecodeError{Err: err}
	}

	obs, err := h.classify(ctx, img)
	if err != nil {
		h.metrics.RecordFrame(ctx, telemetry.FrameError, time.Since(start))
		slogging.Get().WithConnection(ctx, peer.ID(), s.ID).Warn("Gesture source failed: %v", err)
		return nil
	}
	if !obs.Detected {
		h.metrics.RecordFrame(ctx, telemetry.FrameIdle, time.Since(start))
		return nil
	}

	if obs.Index != nil {
		h.reply(ctx, peer, s.ID, TypeHandPosition, encode(HandPositionMessage{
			Type:     TypeHandPosition,
			Position: *obs.Index,
			Mode:     string(obs.Label),
		}))
	}

	var res gesture.Result
	s.Apply(func(st *SessionState) func() {
		res = st.Gesture.Step(st.Canvas, obs)
		var raster *image.RGBA
		if res.Rendered || res.Completed {
			raster = st.Canvas.Raster()
		}
		return func() {
			for _, ev := range res.Events {
				h.metrics.GestureEvent(ctx, string(ev.Type))
				h.reply(ctx, peer, s.ID, string(ev.Type), encode(gestureEventMessage(ev)))
			}
			if raster == nil {
				return
			}
			url := encodeRaster(s.ID, raster)
			if url == "" {
				return
			}
			if res.Rendered {
				h.hub.Broadcast(ctx, s, TypeCanvasUpdate, encode(CanvasUpdateMessage{Type: TypeCanvasUpdate, Canvas: url}), "")
			}
			if res.Completed {
				h.persist.UpdateCanvasState(s.ID, url, false)
			}
		}
	})

	outcome := telemetry.FrameIdle
	if res.Rendered {
		outcome = telemetry.FrameRendered
	}
	h.metrics.RecordFrame(ctx, outcome, time.Since(start))
	return nil
}

func (h *ConnectionHandler) classify(ctx context.Context, img image.Image) (gesture.Observation, error) {
	if h.frameTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.frameTimeout)
		defer cancel()
	}
	return h.source.Process(ctx, img)
}

func (h *ConnectionHandler) handleClearCanvas(ctx context.Context, _ Peer, s *Session, _ ClientMessage) error {
	s.Apply(func(st *SessionState) func() {
		st.Canvas.Clear()
		raster := st.Canvas.Raster()
		return func() {
			url := encodeRaster(s.ID, raster)
			if url == "" {
				return
			}
			h.persist.UpdateCanvasState(s.ID, url, false)
			h.hub.Broadcast(ctx, s, TypeCanvasUpdate, encode(CanvasUpdateMessage{Type: TypeCanvasUpdate, Canvas: url}), "")
		}
	})
	return nil
}

func (h *ConnectionHandler) handleChangeColor(ctx context.Context, peer Peer, s *Session, msg ClientMessage) error {
	req := msg.(*ChangeColor)
	s.Apply(func(st *SessionState) func() {
		st.Canvas.SetBrushColor(req.rgba)
		return func() {
			h.hub.Broadcast(ctx, s, TypeColorChanged,
				encode(ColorChangedMessage{Type: TypeColorChanged, Color: req.Color}), peer.ID())
		}
	})
	return nil
}

func (h *ConnectionHandler) handleMouseDraw(ctx context.Context, peer Peer, s *Session, msg ClientMessage) error {
	req := msg.(*MouseDraw)
	s.Apply(func(st *SessionState) func() {
		st.Canvas.DrawLine(req.Start.pixel(), req.End.pixel(), &req.rgba)
		return func() {
			h.hub.Broadcast(ctx, s, TypeMouseDraw, encode(MouseDrawMessage{
				Type:  TypeMouseDraw,
				Start: *req.Start,
				End:   *req.End,
				Color: req.Color,
			}), peer.ID())
		}
	})
	return nil
}

func (h *ConnectionHandler) handleDrawingUpdate(ctx context.Context, peer Peer, s *Session, msg ClientMessage) error {
	req := msg.(*DrawingUpdate)
	s.Apply(func(st *SessionState) func() {
		st.DrawingLayer = req.Drawing
		return func() {
			if req.IsFinal {
				h.persist.UpdateCanvasState(s.ID, req.Drawing, true)
			}
			h.hub.Broadcast(ctx, s, TypeDrawingUpdate,
				encode(DrawingUpdateMessage{Type: TypeDrawingUpdate, Drawing: req.Drawing}), peer.ID())
		}
	})
	return nil
}

func (h *ConnectionHandler) handleUndo(ctx context.Context, _ Peer, s *Session, _ ClientMessage) error {
	h.applyHistory(ctx, s, (*canvas.Canvas).Undo)
	return nil
}

func (h *ConnectionHandler) handleRedo(ctx context.Context, _ Peer, s *Session, _ ClientMessage) error {
	h.applyHistory(ctx, s, (*canvas.Canvas).Redo)
	return nil
}

// applyHistory runs an undo or redo step and broadcasts the raster if it changed
func (h *ConnectionHandler) applyHistory(ctx context.Context, s *Session, step func(*canvas.Canvas) bool) {
	s.Apply(func(st *SessionState) func() {
		if !step(st.Canvas) {
			return nil
		}
		raster := st.Canvas.Raster()
		return func() {
			if url := encodeRaster(s.ID, raster); url != "" {
				h.hub.Broadcast(ctx, s, TypeCanvasUpdate, encode(CanvasUpdateMessage{Type: TypeCanvasUpdate, Canvas: url}), "")
			}
		}
	})
}

func (h *ConnectionHandler) handleChangeBrushSize(ctx context.Context, peer Peer, s *Session, msg ClientMessage) error {
	req := msg.(*ChangeBrushSize)
	s.Apply(func(st *SessionState) func() {
		st.Canvas.SetBrushSize(req.Size)
		return func() {
			h.hub.Broadcast(ctx, s, TypeBrushSizeChanged,
				encode(BrushSizeChangedMessage{Type: TypeBrushSizeChanged, Size: req.Size}), peer.ID())
		}
	})
	return nil
}

func (h *ConnectionHandler) reply(ctx context.Context, peer Peer, sessionID, messageType string, payload []byte) {
	h.hub.Send(ctx, sessionID, peer, messageType, payload)
}

// replyError maps err onto an error message for the sender
func (h *ConnectionHandler) replyError(ctx context.Context, peer Peer, err error) {
	var sessionID string
	if s, ok := h.registry.SessionFor(peer.ID()); ok {
		sessionID = s.ID
	}
	logger := slogging.Get().WithConnection(ctx, peer.ID(), sessionID)

	var (
		sessionErr  *SessionError
		protocolErr *ProtocolError
		frameErr    *FrameDecodeError
		msg         ErrorMessage
	)
	switch {
	case errors.As(err, &sessionErr):
		logger.Debug("Session error: %v", err)
		msg = newErrorMessage(sessionErr.userMessage(), sessionErr.Code)
	case errors.As(err, &protocolErr):
		logger.Warn("Protocol error: %v", err)
		msg = newErrorMessage(protocolErr.Error(), "")
	case errors.As(err, &frameErr):
		logger.Debug("Frame decode error: %v", err)
		msg = newErrorMessage("Invalid frame data format", "")
	default:
		logger.Error("Failed to process message: %v", err)
		msg = newErrorMessage("Error processing message", "")
	}
	h.reply(ctx, peer, "", TypeError, encode(msg))
}

// encodeRaster returns the raster as a PNG data URL, or "" after logging a failure
func encodeRaster(sessionID string, raster *image.RGBA) string {
	url, err := canvas.EncodePNGDataURL(raster)
	if err != nil {
		slogging.Get().Error("Failed to encode canvas for session %s: %v", sessionID, err)
		return ""
	}
	return url
}
