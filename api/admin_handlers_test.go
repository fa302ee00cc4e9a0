package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtualpainter/painter/internal/config"
)

type testServer struct {
	*testEnv
	server *Server
	router *gin.Engine
}

func newTestServer(t *testing.T, gateway *fakeGateway, opts ServerOptions) *testServer {
	t.Helper()
	env := newTestEnv(t, gateway)
	opts.Registry = env.registry
	opts.Handler = env.handler
	opts.Hub = NewWebSocketHub(env.handler, TransportConfig{}, nil)
	if gateway != nil {
		opts.Deleter = gateway
	}
	s := NewServer(opts)
	return &testServer{testEnv: env, server: s, router: NewRouter(s, RouterOptions{ServiceName: "painter-test"})}
}

func (ts *testServer) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestAdmin_Health(t *testing.T) {
	ts := newTestServer(t, nil, ServerOptions{Health: NewHealthChecker(time.Second, stubBreaker("open"), stubQueue(2), nil)})
	ts.create(t, newFakePeer("A"), "abc123")

	w := ts.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, float64(1), body["sessions"])
	assert.Equal(t, float64(0), body["connections"])
	assert.Equal(t, float64(2), body["pending_writes"])
	assert.Contains(t, body, "version")
}

func TestAdmin_ListAndGetSessions(t *testing.T) {
	ts := newTestServer(t, nil, ServerOptions{})
	ts.create(t, newFakePeer("A"), "b-session")
	ts.create(t, newFakePeer("B"), "a-session")
	ts.join(t, newFakePeer("C"), "a-session")

	w := ts.do(t, http.MethodGet, "/api/sessions")
	require.Equal(t, http.StatusOK, w.Code)
	var list []SessionSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "a-session", list[0].SessionID)
	assert.Equal(t, 2, list[0].Participants)
	assert.Equal(t, "b-session", list[1].SessionID)

	w = ts.do(t, http.MethodGet, "/api/sessions/b-session")
	require.Equal(t, http.StatusOK, w.Code)
	var one SessionSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	assert.Equal(t, "R1", one.RoomID)

	w = ts.do(t, http.MethodGet, "/api/sessions/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_DeleteSession(t *testing.T) {
	gw := newFakeGateway()
	ts := newTestServer(t, gw, ServerOptions{})
	a, b := newFakePeer("A"), newFakePeer("B")
	ts.create(t, a, "abc123")
	ts.join(t, b, "abc123")
	a.reset()
	b.reset()

	w := ts.do(t, http.MethodDelete, "/api/sessions/abc123")
	require.Equal(t, http.StatusNoContent, w.Code)

	for _, p := range []*fakePeer{a, b} {
		notice := p.last(t, TypeError)
		assert.Equal(t, ErrCodeSessionNotFound, notice["errorCode"])
	}
	assert.Zero(t, ts.registry.Len())
	assert.Equal(t, []string{"abc123"}, gw.deleted)

	a.reset()
	ts.send(t, a, map[string]any{"type": TypeUndo})
	assert.Equal(t, ErrCodeNoActiveSession, a.last(t, TypeError)["errorCode"])

	w = ts.do(t, http.MethodDelete, "/api/sessions/abc123")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_Config(t *testing.T) {
	ts := newTestServer(t, nil, ServerOptions{Settings: func() []config.Setting {
		return []config.Setting{{Key: "sessions.retention", Value: "retain", Type: "string"}}
	}})

	w := ts.do(t, http.MethodGet, "/api/config")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"key":"sessions.retention","value":"retain","type":"string","description":""}]`, w.Body.String())

	w = newTestServer(t, nil, ServerOptions{}).do(t, http.MethodGet, "/api/config")
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestAdmin_MetricsRouteOnlyWhenConfigured(t *testing.T) {
	ts := newTestServer(t, nil, ServerOptions{})
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/metrics").Code)

	ts = newTestServer(t, nil, ServerOptions{Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("painter_sessions 1\n"))
	})})
	w := ts.do(t, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "painter_sessions")
}
