package api

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtualpainter/painter/internal/canvas"
	"github.com/virtualpainter/painter/internal/gesture"
	"github.com/virtualpainter/painter/internal/persistence"
)

func pixelAt(t *testing.T, env *testEnv, sessionID string, x, y int) color.RGBA {
	t.Helper()
	s, ok := env.registry.Lookup(sessionID)
	require.True(t, ok)
	raster, _ := s.Snapshot()
	return raster.RGBAAt(x, y)
}

func canvasOf(t *testing.T, env *testEnv, sessionID string) *canvas.Canvas {
	t.Helper()
	s, ok := env.registry.Lookup(sessionID)
	require.True(t, ok)
	return s.state.Canvas
}

func TestHandler_CreateSessionRepliesWithBlankCanvas(t *testing.T) {
	env := newTestEnv(t, nil)
	a := newFakePeer("A")

	env.create(t, a, "abc123")

	assert.Equal(t, []string{TypeSessionCreated}, a.types(t))
	reply := a.last(t, TypeSessionCreated)
	assert.Equal(t, true, reply["success"])
	assert.Equal(t, "abc123", reply["session_id"])
	assert.Equal(t, "R1", reply["room_id"])
	assert.Equal(t, float64(1), reply["participants"])
	assert.Equal(t, blankDataURL(t), reply["canvas"])

	users := env.persist.byOp(persistence.OpCreateUser)
	require.Len(t, users, 1)
	assert.Equal(t, "abc123", users[0].sessionID)
	assert.Equal(t, "A", users[0].data)
}

func TestHandler_JoinNotifiesOthersOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	a, b := newFakePeer("A"), newFakePeer("B")
	env.create(t, a, "abc123")
	a.reset()

	env.join(t, b, "abc123")

	assert.Equal(t, []string{TypeSessionJoined}, b.types(t))
	joined := b.last(t, TypeSessionJoined)
	assert.Equal(t, float64(2), joined["participants"])
	assert.Nil(t, joined["drawing"])
	assert.Equal(t, blankDataURL(t), joined["canvas"])

	assert.Equal(t, []string{TypeParticipantJoined}, a.types(t))
	assert.Equal(t, float64(2), a.last(t, TypeParticipantJoined)["participants"])
}

func TestHandler_MouseDrawRendersAndEchoesToOthers(t *testing.T) {
	env := newTestEnv(t, nil)
	a, b := newFakePeer("A"), newFakePeer("B")
	env.create(t, a, "abc123")
	env.join(t, b, "abc123")
	a.reset()
	b.reset()

	env.send(t, b, map[string]any{
		"type":  TypeMouseDraw,
		"start": map[string]any{"x": 100, "y": 100},
		"end":   map[string]any{"x": 200, "y": 200},
		"color": "#ff0000",
	})

	assert.Empty(t, b.types(t), "sender does not get its own stroke back")
	echo := a.last(t, TypeMouseDraw)
	assert.Equal(t, map[string]any{"x": float64(100), "y": float64(100)}, echo["start"])
	assert.Equal(t, map[string]any{"x": float64(200), "y": float64(200)}, echo["end"])
	assert.Equal(t, "#ff0000", echo["color"])

	assert.Equal(t, color.RGBA{R: 255, A: 255}, pixelAt(t, env, "abc123", 150, 150))
	assert.Equal(t, 1, canvasOf(t, env, "abc123").HistoryLen())
}

func TestHandler_ClearBroadcastsAndPersists(t *testing.T) {
	env := newTestEnv(t, nil)
	a, b := newFakePeer("A"), newFakePeer("B")
	env.create(t, a, "abc123")
	env.join(t, b, "abc123")
	env.send(t, b, map[string]any{
		"type": TypeMouseDraw, "start": map[string]any{"x": 1, "y": 1}, "end": map[string]any{"x": 50, "y": 50}, "color": "#000000",
	})
	a.reset()
	b.reset()

	env.send(t, a, map[string]any{"type": TypeClearCanvas})

	blank := blankDataURL(t)
	assert.Equal(t, blank, a.last(t, TypeCanvasUpdate)["canvas"])
	assert.Equal(t, blank, b.last(t, TypeCanvasUpdate)["canvas"])

	updates := env.persist.byOp(persistence.OpUpdateCanvasState)
	require.Len(t, updates, 1)
	assert.Equal(t, "abc123", updates[0].sessionID)
	assert.Equal(t, blank, updates[0].data)
	assert.False(t, updates[0].isLayer)
	assert.Zero(t, canvasOf(t, env, "abc123").HistoryLen())
}

func TestHandler_GestureLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	a, b := newFakePeer("A"), newFakePeer("B")
	env.create(t, a, "abc123")
	env.join(t, b, "abc123")
	a.reset()
	b.reset()

	env.source.obs = []gesture.Observation{
		{Detected: true, Label: gesture.Idle},
		{Detected: true, Label: gesture.Drawing, Index: pos(0.1, 0.1)},
		{Detected: true, Label: gesture.Drawing, Index: pos(0.5, 0.5)},
		{Detected: true, Label: gesture.Idle},
	}
	frame := frameDataURL(t)
	for range 4 {
		env.send(t, a, map[string]any{"type": TypeFrame, "frame": frame})
	}

	var events []map[string]any
	for _, m := range a.messages(t) {
		switch m["type"] {
		case string(gesture.EventStart), string(gesture.EventPoint), string(gesture.EventComplete), string(gesture.EventAction):
			events = append(events, m)
		}
	}
	require.Len(t, events, 4)
	assert.Equal(t, map[string]any{"type": "gesture_start", "gesture": "drawing"}, events[0])
	assert.Equal(t, "gesture_point", events[1]["type"])
	assert.Equal(t, map[string]any{"x": 0.1, "y": 0.1}, events[1]["point"])
	assert.Equal(t, "gesture_point", events[2]["type"])
	assert.Equal(t, map[string]any{"type": "gesture_complete", "previous": "drawing"}, events[3])

	assert.Equal(t, 1, canvasOf(t, env, "abc123").HistoryLen(), "only the second drawing frame renders")

	assert.Equal(t, []string{TypeCanvasUpdate}, b.types(t), "other members only see the rendered raster")
	assert.Equal(t, "drawing", a.last(t, TypeHandPosition)["mode"])

	updates := env.persist.byOp(persistence.OpUpdateCanvasState)
	require.Len(t, updates, 1, "completed stroke is persisted once")
	assert.False(t, updates[0].isLayer)
}

func TestHandler_UndoGestureRevertsOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	a := newFakePeer("A")
	env.create(t, a, "abc123")
	env.send(t, a, map[string]any{
		"type": TypeMouseDraw, "start": map[string]any{"x": 10, "y": 10}, "end": map[string]any{"x": 90, "y": 10}, "color": "#0000ff",
	})
	a.reset()

	env.source.obs = []gesture.Observation{
		{Detected: true, Label: gesture.Undo},
		{Detected: true, Label: gesture.Undo},
	}
	frame := frameDataURL(t)
	env.send(t, a, map[string]any{"type": TypeFrame, "frame": frame})
	env.send(t, a, map[string]any{"type": TypeFrame, "frame": frame})

	assert.Equal(t, []string{string(gesture.EventAction), TypeCanvasUpdate}, a.types(t))
	assert.Equal(t, "undo", a.last(t, string(gesture.EventAction))["action"])
	assert.Equal(t, canvas.White, pixelAt(t, env, "abc123", 50, 10))
}

func TestHandler_UndoRedoBroadcastOnlyOnChange(t *testing.T) {
	env := newTestEnv(t, nil)
	a, b := newFakePeer("A"), newFakePeer("B")
	env.create(t, a, "abc123")
	env.join(t, b, "abc123")
	a.reset()
	b.reset()

	env.send(t, a, map[string]any{"type": TypeUndo})
	assert.Empty(t, a.types(t), "nothing to undo")
	assert.Empty(t, b.types(t))

	env.send(t, a, map[string]any{
		"type": TypeMouseDraw, "start": map[string]any{"x": 10, "y": 10}, "end": map[string]any{"x": 90, "y": 10}, "color": "#ff0000",
	})
	b.reset()

	env.send(t, a, map[string]any{"type": TypeUndo})
	assert.Equal(t, []string{TypeCanvasUpdate}, a.types(t))
	assert.Equal(t, []string{TypeCanvasUpdate}, b.types(t))
	assert.Equal(t, canvas.White, pixelAt(t, env, "abc123", 50, 10))

	env.send(t, b, map[string]any{"type": TypeRedo})
	assert.Equal(t, color.RGBA{R: 255, A: 255}, pixelAt(t, env, "abc123", 50, 10))
	assert.Len(t, b.types(t), 2)

	a.reset()
	env.send(t, a, map[string]any{"type": TypeRedo})
	assert.Empty(t, a.types(t), "nothing to redo")
}

func TestHandler_BrushStateEchoesToOthers(t *testing.T) {
	env := newTestEnv(t, nil)
	a, b := newFakePeer("A"), newFakePeer("B")
	env.create(t, a, "abc123")
	env.join(t, b, "abc123")
	a.reset()
	b.reset()

	env.send(t, a, map[string]any{"type": TypeChangeColor, "color": []int{0, 0, 255}})
	env.send(t, a, map[string]any{"type": TypeChangeBrushSize, "size": 20})

	assert.Empty(t, a.types(t))
	assert.Equal(t, []string{TypeColorChanged, TypeBrushSizeChanged}, b.types(t))
	assert.Equal(t, []any{float64(0), float64(0), float64(255)}, b.last(t, TypeColorChanged)["color"])
	assert.Equal(t, float64(20), b.last(t, TypeBrushSizeChanged)["size"])

	c := canvasOf(t, env, "abc123")
	assert.Equal(t, color.RGBA{B: 255, A: 255}, c.BrushColor())
	assert.Equal(t, 20, c.BrushSize())
}

func TestHandler_DrawingUpdate(t *testing.T) {
	env := newTestEnv(t, nil)
	a, b := newFakePeer("A"), newFakePeer("B")
	env.create(t, a, "abc123")
	env.join(t, b, "abc123")
	a.reset()
	b.reset()

	layer := frameDataURL(t)
	env.send(t, a, map[string]any{"type": TypeDrawingUpdate, "drawing": layer})
	assert.Empty(t, a.types(t))
	assert.Equal(t, layer, b.last(t, TypeDrawingUpdate)["drawing"])
	assert.Empty(t, env.persist.byOp(persistence.OpUpdateCanvasState), "intermediate layers are not persisted")

	env.send(t, a, map[string]any{"type": TypeDrawingUpdate, "drawing": layer, "isFinal": true})
	updates := env.persist.byOp(persistence.OpUpdateCanvasState)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].isLayer)
	assert.Equal(t, layer, updates[0].data)

	late := newFakePeer("C")
	env.join(t, late, "abc123")
	assert.Equal(t, layer, late.last(t, TypeSessionJoined)["drawing"])
}

func TestHandler_UnboundConnection(t *testing.T) {
	env := newTestEnv(t, nil)
	a := newFakePeer("A")

	env.send(t, a, map[string]any{"type": TypeFrame, "frame": frameDataURL(t)})
	assert.Empty(t, a.types(t), "frames before joining are dropped silently")
	env.send(t, a, map[string]any{"type": TypeFrame, "frame": ""})
	env.send(t, a, map[string]any{"type": TypeFrame})
	assert.Empty(t, a.types(t), "empty frames before joining are dropped silently")

	for _, msg := range []map[string]any{
		{"type": TypeClearCanvas},
		{"type": TypeUndo},
		{"type": TypeChangeBrushSize, "size": 5},
	} {
		a.reset()
		env.send(t, a, msg)
		reply := a.last(t, TypeError)
		assert.Equal(t, false, reply["success"])
		assert.Equal(t, ErrCodeNoActiveSession, reply["errorCode"])
	}
}

func TestHandler_JoinUnknownSession(t *testing.T) {
	env := newTestEnv(t, newFakeGateway())
	a := newFakePeer("A")

	env.join(t, a, "nope")

	reply := a.last(t, TypeError)
	assert.Equal(t, ErrCodeSessionNotFound, reply["errorCode"])
	assert.Equal(t, "Session not found or has expired. Please create a new session.", reply["message"])
	assert.Empty(t, env.persist.byOp(persistence.OpCreateUser))
}

func TestHandler_JoinRestoresFromBackend(t *testing.T) {
	env := newTestEnv(t, newFakeGateway(persistence.SessionRecord{SessionID: "saved", RoomID: "R7"}))
	a := newFakePeer("A")

	env.join(t, a, "saved")

	joined := a.last(t, TypeSessionJoined)
	assert.Equal(t, "R7", joined["room_id"])
	assert.Equal(t, float64(1), joined["participants"])
}

func TestHandler_ProtocolErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	a := newFakePeer("A")

	env.handler.HandleMessage(context.Background(), a, []byte(`not json`))
	assert.Contains(t, a.last(t, TypeError)["message"], "malformed JSON")

	a.reset()
	env.send(t, a, map[string]any{"type": "teleport"})
	assert.Contains(t, a.last(t, TypeError)["message"], "unsupported message type")
	assert.Nil(t, a.last(t, TypeError)["errorCode"])
}

func TestHandler_FrameFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	a := newFakePeer("A")
	env.create(t, a, "abc123")
	a.reset()

	env.send(t, a, map[string]any{"type": TypeFrame, "frame": "data:image/jpeg;base64,@@@@"})
	assert.Equal(t, "Invalid frame data format", a.last(t, TypeError)["message"])

	for _, frame := range []any{"", "data:image/jpeg;base64,"} {
		a.reset()
		env.send(t, a, map[string]any{"type": TypeFrame, "frame": frame})
		assert.Equal(t, "Invalid frame data format", a.last(t, TypeError)["message"])
	}

	a.reset()
	env.source.err = errors.New("classifier unavailable")
	env.send(t, a, map[string]any{"type": TypeFrame, "frame": frameDataURL(t)})
	assert.Empty(t, a.types(t), "source failures are not reported to the client")

	a.reset()
	env.source.err = nil
	env.source.obs = []gesture.Observation{{Detected: false}}
	env.send(t, a, map[string]any{"type": TypeFrame, "frame": frameDataURL(t)})
	assert.Empty(t, a.types(t))
}

func TestHandler_RecoversFromPanics(t *testing.T) {
	registry := newTestRegistry(nil)
	handler := NewConnectionHandler(HandlerOptions{
		Registry: registry,
		Source: gesture.SourceFunc(func(context.Context, image.Image) (gesture.Observation, error) {
			panic("boom")
		}),
	})
	a := newFakePeer("A")
	handler.HandleMessage(context.Background(), a, []byte(`{"type":"create_session","user_name":"A","room_id":"R","session_id":"s"}`))
	a.reset()

	require.NotPanics(t, func() {
		handler.HandleMessage(context.Background(), a, []byte(`{"type":"frame","frame":"`+frameDataURL(t)+`"}`))
	})
	assert.Equal(t, "Internal error processing message", a.last(t, TypeError)["message"])

	handler.HandleMessage(context.Background(), a, []byte(`{"type":"clear_canvas"}`))
	assert.Equal(t, TypeCanvasUpdate, a.types(t)[len(a.types(t))-1], "connection keeps working")
}

func TestHandler_DisconnectNotifiesRemaining(t *testing.T) {
	env := newTestEnv(t, nil)
	a, b := newFakePeer("A"), newFakePeer("B")
	env.create(t, a, "abc123")
	env.join(t, b, "abc123")
	a.reset()

	env.handler.Disconnect(context.Background(), b)
	assert.Equal(t, float64(1), a.last(t, TypeParticipantLeft)["participants"])

	a.reset()
	env.handler.Disconnect(context.Background(), a)
	env.handler.Disconnect(context.Background(), a)
	assert.Empty(t, a.types(t))

	_, ok := env.registry.Lookup("abc123")
	assert.True(t, ok, "empty sessions are retained")
}

func TestHandler_SwitchingSessionsNotifiesPrevious(t *testing.T) {
	env := newTestEnv(t, nil)
	a, b := newFakePeer("A"), newFakePeer("B")
	env.create(t, a, "one")
	env.join(t, b, "one")
	a.reset()

	env.create(t, b, "two")

	assert.Equal(t, float64(1), a.last(t, TypeParticipantLeft)["participants"])
	assert.Equal(t, "two", b.last(t, TypeSessionCreated)["session_id"])
}

func TestHandler_FullQueueEvictsSlowPeer(t *testing.T) {
	env := newTestEnv(t, nil)
	a, b, c := newFakePeer("A"), newFakePeer("B"), newFakePeer("C")
	env.create(t, a, "abc123")
	env.join(t, b, "abc123")
	env.join(t, c, "abc123")
	b.setFull(true)
	a.reset()
	c.reset()

	env.send(t, a, map[string]any{"type": TypeClearCanvas})

	assert.Equal(t, []string{TypeCanvasUpdate}, a.types(t))
	assert.Equal(t, []string{TypeCanvasUpdate}, c.types(t))
	assert.True(t, b.isClosed())
	assert.False(t, a.isClosed())
	assert.False(t, c.isClosed())

	// the transport reports the closed connection as a disconnect
	env.handler.Disconnect(context.Background(), b)
	assert.Equal(t, float64(2), c.last(t, TypeParticipantLeft)["participants"])
	s, _ := env.registry.Lookup("abc123")
	assert.False(t, s.HasMember("B"))
}
