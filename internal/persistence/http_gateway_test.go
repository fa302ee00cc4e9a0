package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtualpainter/painter/internal/canvas"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) *HTTPGateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPGateway(server.URL+"/api/", 2*time.Second)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestHTTPGateway_GetSession(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		gw := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/api/sessions/abc123", r.URL.Path)
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data": map[string]any{
					"sessionId":        "abc123",
					"roomId":           "R1",
					"createdBy":        "A",
					"participants":     2,
					"createdAt":        "2024-05-01T10:00:00Z",
					"canvasData":       canvas.PNGDataURLPrefix + "AAAA",
					"drawingLayerData": "BBBB",
				},
			})
		})

		rec, err := gw.GetSession(context.Background(), "abc123")
		require.NoError(t, err)
		assert.Equal(t, "abc123", rec.SessionID)
		assert.Equal(t, "R1", rec.RoomID)
		assert.Equal(t, "A", rec.CreatedBy)
		assert.Equal(t, 2, rec.Participants)
		assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), rec.CreatedAt.UTC())
		assert.Equal(t, canvas.PNGDataURLPrefix+"AAAA", rec.CanvasData)
		assert.Equal(t, canvas.PNGDataURLPrefix+"BBBB", rec.DrawingLayerData)
	})

	t.Run("null snapshots", func(t *testing.T) {
		gw := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data":    map[string]any{"sessionId": "abc123", "roomId": "R1", "canvasData": nil, "drawingLayerData": nil},
			})
		})

		rec, err := gw.GetSession(context.Background(), "abc123")
		require.NoError(t, err)
		assert.Empty(t, rec.CanvasData)
		assert.Empty(t, rec.DrawingLayerData)
	})

	t.Run("not found", func(t *testing.T) {
		gw := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Session not found"})
		})

		_, err := gw.GetSession(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("server error", func(t *testing.T) {
		gw := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		})

		_, err := gw.GetSession(context.Background(), "abc123")
		var status *StatusError
		require.True(t, errors.As(err, &status))
		assert.Equal(t, http.StatusInternalServerError, status.StatusCode)
		assert.True(t, status.Temporary())
	})
}

func TestHTTPGateway_CreateUser(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
		wantErr bool
	}{
		{"created", http.StatusCreated, "User created", false},
		{"already exists", http.StatusBadRequest, "User already exists in this session", false},
		{"bad request", http.StatusBadRequest, "Missing required fields", true},
		{"server error", http.StatusServiceUnavailable, "down", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/api/users/create", r.URL.Path)

				var body map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, map[string]string{"userName": "A", "sessionId": "abc123", "roomId": "R1"}, body)

				writeJSON(w, tt.status, map[string]any{"success": tt.status < 300, "message": tt.message})
			})

			err := gw.CreateUser(context.Background(), "A", "abc123", "R1")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHTTPGateway_UpdateCanvasState(t *testing.T) {
	var body map[string]any
	gw := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sessions/update-canvas", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	require.NoError(t, gw.UpdateCanvasState(context.Background(), "abc123", canvas.PNGDataURLPrefix+"AAAA", true))
	assert.Equal(t, "abc123", body["sessionId"])
	assert.Equal(t, "AAAA", body["canvasData"])
	assert.Equal(t, true, body["isDrawingLayer"])
}

func TestHTTPGateway_ListActiveSessions(t *testing.T) {
	t.Run("listed", func(t *testing.T) {
		gw := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/sessions/active", r.URL.Path)
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data": []map[string]any{
					{"sessionId": "s1", "roomId": "R1"},
					{"sessionId": "", "roomId": "ignored"},
					{"sessionId": "s2", "roomId": "R2", "canvasData": "AAAA"},
				},
			})
		})

		records, err := gw.ListActiveSessions(context.Background())
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "s1", records[0].SessionID)
		assert.Equal(t, canvas.PNGDataURLPrefix+"AAAA", records[1].CanvasData)
	})

	t.Run("endpoint missing", func(t *testing.T) {
		gw := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})

		records, err := gw.ListActiveSessions(context.Background())
		assert.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestHTTPGateway_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	gw := NewHTTPGateway(url, time.Second)
	err := gw.CreateUser(context.Background(), "A", "abc123", "R1")
	assert.Error(t, err)
	assert.True(t, retryable(err))
}

func TestHTTPGateway_SendsAPIToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": []any{}})
	}))
	t.Cleanup(server.Close)

	gw := NewHTTPGateway(server.URL+"/api", 2*time.Second, WithAPIToken("s3cret"))
	_, err := gw.ListActiveSessions(context.Background())
	require.NoError(t, err)
}
