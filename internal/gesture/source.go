package gesture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"github.com/virtualpainter/painter/internal/canvas"
)

// Observation is the output of a gesture source for one frame. Positions are
// normalized to [0,1]x[0,1].
type Observation struct {
	Detected bool
	Label    Label
	// Index is the index fingertip
	Index *canvas.Position
	// Middle is the middle fingertip, used to place the eraser
	Middle *canvas.Position
}

// erasePosition is the midpoint of the index and middle fingertips, or the
// index fingertip alone when the middle one was not tracked
func (o Observation) erasePosition() (canvas.Position, bool) {
	switch {
	case o.Index != nil && o.Middle != nil:
		return canvas.Midpoint(*o.Index, *o.Middle), true
	case o.Index != nil:
		return *o.Index, true
	default:
		return canvas.Position{}, false
	}
}

// Source classifies a decoded camera frame
type Source interface {
	Process(ctx context.Context, frame image.Image) (Observation, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context, frame image.Image) (Observation, error)

// Process calls f
func (f SourceFunc) Process(ctx context.Context, frame image.Image) (Observation, error) {
	return f(ctx, frame)
}

// NoneSource never detects a hand
type NoneSource struct{}

// Process reports no hand
func (NoneSource) Process(context.Context, image.Image) (Observation, error) {
	return Observation{}, nil
}

// ErrSourceUnavailable is returned when the remote classifier cannot be reached
var ErrSourceUnavailable = errors.New("gesture source unavailable")

// RemoteSource posts frames as JPEG to an HTTP classifier
type RemoteSource struct {
	endpoint string
	client   *http.Client
	quality  int
}

// RemoteOption configures a RemoteSource
type RemoteOption func(*RemoteSource)

// WithHTTPClient sets the client used for classifier requests
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(s *RemoteSource) { s.client = c }
}

// WithJPEGQuality sets the encoding quality of posted frames
func WithJPEGQuality(q int) RemoteOption {
	return func(s *RemoteSource) {
		if q > 0 && q <= 100 {
			s.quality = q
		}
	}
}

// NewRemoteSource creates a source backed by the classifier at endpoint
func NewRemoteSource(endpoint string, opts ...RemoteOption) *RemoteSource {
	s := &RemoteSource{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		quality:  80,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type remotePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type remoteResponse struct {
	Detected bool         `json:"detected"`
	Gesture  string       `json:"gesture"`
	Index    *remotePoint `json:"index"`
	Middle   *remotePoint `json:"middle"`
}

// Process implements Source
func (s *RemoteSource) Process(ctx context.Context, frame image.Image) (Observation, error) {
	var body bytes.Buffer
	if err := jpeg.Encode(&body, frame, &jpeg.Options{Quality: s.quality}); err != nil {
		return Observation{}, fmt.Errorf("failed to encode frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, &body)
	if err != nil {
		return Observation{}, fmt.Errorf("failed to build classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := s.client.Do(req)
	if err != nil {
		return Observation{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Observation{}, fmt.Errorf("%w: classifier returned %d", ErrSourceUnavailable, resp.StatusCode)
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Observation{}, fmt.Errorf("failed to decode classifier response: %w", err)
	}

	obs := Observation{Detected: out.Detected, Label: ParseLabel(out.Gesture)}
	if out.Index != nil {
		obs.Index = &canvas.Position{X: out.Index.X, Y: out.Index.Y}
	}
	if out.Middle != nil {
		obs.Middle = &canvas.Position{X: out.Middle.X, Y: out.Middle.Y}
	}
	return obs, nil
}
