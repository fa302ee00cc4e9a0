package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/virtualpainter/painter/internal/canvas"
	"github.com/virtualpainter/painter/internal/slogging"
)

// maxResponseBytes bounds how much of a backend response is read
const maxResponseBytes = 64 << 20

// HTTPGateway talks to the painter REST backend
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	token   string
}

// HTTPOption configures an HTTPGateway
type HTTPOption func(*HTTPGateway)

// WithClient replaces the HTTP client
func WithClient(client *http.Client) HTTPOption {
	return func(g *HTTPGateway) {
		g.client = client
	}
}

// WithAPIToken sends token as a bearer credential on every request
func WithAPIToken(token string) HTTPOption {
	return func(g *HTTPGateway) {
		g.token = token
	}
}

// NewHTTPGateway creates a gateway for the backend rooted at baseURL,
// e.g. "http://localhost:5000/api"
func NewHTTPGateway(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPGateway {
	g := &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type apiSession struct {
	SessionID        string  `json:"sessionId"`
	RoomID           string  `json:"roomId"`
	CreatedBy        string  `json:"createdBy"`
	Participants     int     `json:"participants"`
	CreatedAt        string  `json:"createdAt"`
	CanvasData       *string `json:"canvasData"`
	DrawingLayerData *string `json:"drawingLayerData"`
}

func (s apiSession) record() SessionRecord {
	rec := SessionRecord{
		SessionID:        s.SessionID,
		RoomID:           s.RoomID,
		CreatedBy:        s.CreatedBy,
		Participants:     s.Participants,
		CanvasData:       asPNGDataURL(s.CanvasData),
		DrawingLayerData: asPNGDataURL(s.DrawingLayerData),
	}
	if t, err := time.Parse(time.RFC3339, s.CreatedAt); err == nil {
		rec.CreatedAt = t
	}
	return rec
}

// asPNGDataURL restores the data URL header the backend may have stripped
func asPNGDataURL(s *string) string {
	if s == nil || *s == "" {
		return ""
	}
	if strings.HasPrefix(*s, "data:") {
		return *s
	}
	return canvas.PNGDataURLPrefix + *s
}

// GetSession implements Gateway
func (g *HTTPGateway) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	env, status, err := g.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if status != http.StatusOK || !env.Success {
		return nil, &StatusError{StatusCode: status, Message: env.text()}
	}

	var s apiSession
	if err := json.Unmarshal(env.Data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if s.SessionID == "" {
		s.SessionID = sessionID
	}
	rec := s.record()
	return &rec, nil
}

// CreateUser implements Gateway. A user that already exists counts as success.
func (g *HTTPGateway) CreateUser(ctx context.Context, userName, sessionID, roomID string) error {
	body := map[string]string{"userName": userName, "sessionId": sessionID, "roomId": roomID}
	env, status, err := g.do(ctx, http.MethodPost, "/users/create", body)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusCreated || status == http.StatusOK:
		return nil
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(env.text()), "already exists"):
		slogging.Get().Debug("User %s already exists in session %s", userName, sessionID)
		return nil
	default:
		return &StatusError{StatusCode: status, Message: env.text()}
	}
}

// UpdateCanvasState implements Gateway. The backend stores the bare base64 payload.
func (g *HTTPGateway) UpdateCanvasState(ctx context.Context, sessionID, imageDataURL string, isDrawingLayer bool) error {
	body := map[string]any{
		"sessionId":      sessionID,
		"canvasData":     canvas.StripDataURLPrefix(imageDataURL),
		"isDrawingLayer": isDrawingLayer,
	}
	env, status, err := g.do(ctx, http.MethodPost, "/sessions/update-canvas", body)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return ErrNotFound
	}
	if status != http.StatusOK {
		return &StatusError{StatusCode: status, Message: env.text()}
	}
	return nil
}

// ListActiveSessions implements Gateway. Backends without the listing
// endpoint answer 404, which yields an empty list.
func (g *HTTPGateway) ListActiveSessions(ctx context.Context) ([]SessionRecord, error) {
	env, status, err := g.do(ctx, http.MethodGet, "/sessions/active", nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, &StatusError{StatusCode: status, Message: env.text()}
	}

	var sessions []apiSession
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &sessions); err != nil {
			return nil, fmt.Errorf("failed to decode active sessions: %w", err)
		}
	}
	records := make([]SessionRecord, 0, len(sessions))
	for _, s := range sessions {
		if s.SessionID == "" {
			continue
		}
		records = append(records, s.record())
	}
	return records, nil
}

func (e apiEnvelope) text() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

// do sends a JSON request and decodes the envelope. Transport failures are
// returned as errors; any HTTP status is returned to the caller.
func (g *HTTPGateway) do(ctx context.Context, method, path string, body any) (apiEnvelope, int, error) {
	var env apiEnvelope

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return env, 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return env, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return env, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return env, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if len(raw) > 0 {
		// non-JSON error pages still carry a usable status code
		if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil && resp.StatusCode == http.StatusOK {
			return env, resp.StatusCode, fmt.Errorf("failed to decode response: %w", jsonErr)
		}
	}
	return env, resp.StatusCode, nil
}
