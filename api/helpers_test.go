package api

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/virtualpainter/painter/internal/canvas"
	"github.com/virtualpainter/painter/internal/gesture"
	"github.com/virtualpainter/painter/internal/persistence"
	"github.com/virtualpainter/painter/internal/slogging"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	if err := slogging.Initialize(slogging.Config{Level: slogging.LogLevelError, Output: io.Discard}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakePeer records every message queued for it
type fakePeer struct {
	id string

	mu   sync.Mutex
	msgs   [][]byte
	full   bool
	closed bool
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Enqueue(msg []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return false
	}
	p.msgs = append(p.msgs, msg)
	return true
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) setFull(full bool) {
	p.mu.Lock()
	p.full = full
	p.mu.Unlock()
}

// messages decodes everything received so far
func (p *fakePeer) messages(t *testing.T) []map[string]any {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]map[string]any, 0, len(p.msgs))
	for _, raw := range p.msgs {
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

func (p *fakePeer) types(t *testing.T) []string {
	t.Helper()
	msgs := p.messages(t)
	types := make([]string, 0, len(msgs))
	for _, m := range msgs {
		types = append(types, m["type"].(string))
	}
	return types
}

// last returns the newest message of the given type
func (p *fakePeer) last(t *testing.T, messageType string) map[string]any {
	t.Helper()
	msgs := p.messages(t)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i]["type"] == messageType {
			return msgs[i]
		}
	}
	t.Fatalf("no %s message received by %s; got %v", messageType, p.id, p.types(t))
	return nil
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	p.msgs = nil
	p.mu.Unlock()
}

type persistCall struct {
	op        string
	sessionID string
	data      string
	isLayer   bool
}

// fakePersister records queued persistence jobs
type fakePersister struct {
	mu    sync.Mutex
	calls []persistCall
}

func (f *fakePersister) UpdateCanvasState(sessionID, imageDataURL string, isDrawingLayer bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, persistCall{op: persistence.OpUpdateCanvasState, sessionID: sessionID, data: imageDataURL, isLayer: isDrawingLayer})
	return true
}

func (f *fakePersister) CreateUser(userName, sessionID, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, persistCall{op: persistence.OpCreateUser, sessionID: sessionID, data: userName})
	return true
}

func (f *fakePersister) byOp(op string) []persistCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []persistCall
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

// fakeGateway serves records from memory
type fakeGateway struct {
	mu      sync.Mutex
	records map[string]persistence.SessionRecord
	getErr  error
	listErr error
	block   chan struct{}
	gets    atomic.Int32
	deleted []string
}

func newFakeGateway(records ...persistence.SessionRecord) *fakeGateway {
	g := &fakeGateway{records: make(map[string]persistence.SessionRecord)}
	for _, r := range records {
		g.records[r.SessionID] = r
	}
	return g
}

func (g *fakeGateway) GetSession(ctx context.Context, sessionID string) (*persistence.SessionRecord, error) {
	g.gets.Add(1)
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return nil, g.getErr
	}
	rec, ok := g.records[sessionID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &rec, nil
}

func (g *fakeGateway) CreateUser(context.Context, string, string, string) error {
	return nil
}

func (g *fakeGateway) UpdateCanvasState(context.Context, string, string, bool) error {
	return nil
}

func (g *fakeGateway) ListActiveSessions(context.Context) ([]persistence.SessionRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	out := make([]persistence.SessionRecord, 0, len(g.records))
	for _, r := range g.records {
		out = append(out, r)
	}
	return out, nil
}

func (g *fakeGateway) DeleteSession(_ context.Context, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.records, sessionID)
	g.deleted = append(g.deleted, sessionID)
	return nil
}

// scriptedSource returns its observations in order, then idle ones
type scriptedSource struct {
	mu  sync.Mutex
	obs []gesture.Observation
	err error
}

func (s *scriptedSource) Process(context.Context, image.Image) (gesture.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return gesture.Observation{}, s.err
	}
	if len(s.obs) == 0 {
		return gesture.Observation{Detected: true, Label: gesture.Idle}, nil
	}
	next := s.obs[0]
	s.obs = s.obs[1:]
	return next, nil
}

type testEnv struct {
	registry *SessionRegistry
	handler  *ConnectionHandler
	persist  *fakePersister
	source   *scriptedSource
	gateway  *fakeGateway
}

func newTestEnv(t *testing.T, gateway *fakeGateway) *testEnv {
	t.Helper()
	env := &testEnv{
		persist: &fakePersister{},
		source:  &scriptedSource{},
		gateway: gateway,
	}
	opts := RegistryOptions{Canvas: canvas.DefaultOptions(), RestoreTimeout: time.Second}
	if gateway != nil {
		opts.Gateway = gateway
	}
	env.registry = NewSessionRegistry(opts)
	env.handler = NewConnectionHandler(HandlerOptions{
		Registry:  env.registry,
		Persister: env.persist,
		Source:    env.source,
	})
	return env
}

func (e *testEnv) send(t *testing.T, peer Peer, msg map[string]any) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	e.handler.HandleMessage(context.Background(), peer, raw)
}

func (e *testEnv) create(t *testing.T, peer Peer, sessionID string) {
	t.Helper()
	e.send(t, peer, map[string]any{
		"type": TypeCreateSession, "user_name": peer.ID(), "room_id": "R1", "session_id": sessionID,
	})
}

func (e *testEnv) join(t *testing.T, peer Peer, sessionID string) {
	t.Helper()
	e.send(t, peer, map[string]any{
		"type": TypeJoinSession, "user_name": peer.ID(), "session_id": sessionID,
	})
}

// blankDataURL is the encoded raster of a fresh default canvas
func blankDataURL(t *testing.T) string {
	t.Helper()
	url, err := canvas.EncodePNGDataURL(canvas.New(canvas.DefaultOptions()).Raster())
	require.NoError(t, err)
	return url
}

// frameDataURL is a small valid camera frame
func frameDataURL(t *testing.T) string {
	t.Helper()
	url, err := canvas.EncodePNGDataURL(canvas.New(canvas.Options{Width: 8, Height: 8}).Raster())
	require.NoError(t, err)
	return url
}

func pos(x, y float64) *canvas.Position {
	return &canvas.Position{X: x, Y: y}
}
