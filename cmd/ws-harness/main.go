// Command ws-harness drives a painting session against a running server.
// In host mode it creates a session and paints strokes; in participant mode
// it joins an existing session and logs what the other members do.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/virtualpainter/painter/api"
	"github.com/virtualpainter/painter/internal/slogging"
	"github.com/virtualpainter/painter/internal/uuidgen"
)

// Config holds the harness command line
type Config struct {
	ServerURL string
	UserName  string
	SessionID string
	RoomID    string
	IsHost    bool
	Strokes   int
	Interval  time.Duration
	Color     string
}

func main() {
	config, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	logger := slogging.Get().GetSlogger()
	logger.Info("WebSocket harness starting", "server", config.ServerURL, "user", config.UserName, "host", config.IsHost)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutting down")
		cancel()
	}()

	if err := run(ctx, config); err != nil {
		logger.Error("Harness error", "error", err)
		os.Exit(1)
	}
}

func parseArgs(args []string) (Config, error) {
	fs := flag.NewFlagSet("ws-harness", flag.ContinueOnError)
	var config Config
	fs.StringVar(&config.ServerURL, "server", "localhost:8765", "Server address")
	fs.StringVar(&config.UserName, "user", "", "Display name")
	fs.StringVar(&config.SessionID, "session", "", "Session to join, or to create in host mode")
	fs.StringVar(&config.RoomID, "room", "harness", "Room for a created session")
	fs.BoolVar(&config.IsHost, "host", false, "Create the session and paint strokes")
	fs.IntVar(&config.Strokes, "strokes", 20, "Stroke segments to paint in host mode")
	fs.DurationVar(&config.Interval, "interval", 100*time.Millisecond, "Delay between segments")
	fs.StringVar(&config.Color, "color", "#ff0000", "Stroke colour")
	if err := fs.Parse(args); err != nil {
		return config, err
	}

	if config.UserName == "" {
		return config, fmt.Errorf("required parameter missing: -user")
	}
	if !config.IsHost && config.SessionID == "" {
		return config, fmt.Errorf("participant mode requires -session")
	}
	if config.SessionID == "" {
		config.SessionID = uuidgen.NewString(uuidgen.KindRequest)
	}
	config.ServerURL = websocketURL(config.ServerURL)
	return config, nil
}

// websocketURL turns a host or http(s) URL into the server's websocket URL
func websocketURL(server string) string {
	switch {
	case strings.HasPrefix(server, "https://"):
		server = "wss://" + strings.TrimPrefix(server, "https://")
	case strings.HasPrefix(server, "http://"):
		server = "ws://" + strings.TrimPrefix(server, "http://")
	case !strings.HasPrefix(server, "ws://") && !strings.HasPrefix(server, "wss://"):
		server = "ws://" + server
	}
	return strings.TrimRight(server, "/") + "/ws"
}

func run(ctx context.Context, config Config) error {
	logger := slogging.Get().GetSlogger()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, config.ServerURL, nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			logger.Error("WebSocket connection failed", "status_code", resp.StatusCode, "body", string(body))
		}
		return fmt.Errorf("WebSocket connection failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	logger.Info("WebSocket connected", "url", config.ServerURL)

	connectionLost := make(chan error, 1)
	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				connectionLost <- err
				return
			}
			logMessage(message)
		}
	}()

	if config.IsHost {
		if err := conn.WriteJSON(map[string]string{
			"type":       api.TypeCreateSession,
			"user_name":  config.UserName,
			"room_id":    config.RoomID,
			"session_id": config.SessionID,
		}); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		logger.Info("Created session", "session_id", config.SessionID)

		if err := paint(ctx, conn, config); err != nil {
			return err
		}
	} else {
		if err := conn.WriteJSON(map[string]string{
			"type":       api.TypeJoinSession,
			"user_name":  config.UserName,
			"session_id": config.SessionID,
		}); err != nil {
			return fmt.Errorf("failed to join session: %w", err)
		}
	}

	select {
	case <-ctx.Done():
		err = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			logger.Warn("Error sending WebSocket close message", "error", err)
		}
		return nil
	case err := <-connectionLost:
		return fmt.Errorf("WebSocket connection lost: %w", err)
	}
}

func paint(ctx context.Context, conn *websocket.Conn, config Config) error {
	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()

	for _, seg := range spiral(config.Strokes, 640, 480) {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		err := conn.WriteJSON(api.MouseDrawMessage{Type: api.TypeMouseDraw, Start: seg[0], End: seg[1], Color: config.Color})
		if err != nil {
			return fmt.Errorf("failed to send stroke: %w", err)
		}
	}
	return nil
}

// spiral returns n connected segments winding out from the canvas centre
func spiral(n, width, height int) [][2]api.WirePoint {
	cx, cy := float64(width)/2, float64(height)/2
	maxRadius := math.Min(cx, cy) * 0.9
	at := func(i int) api.WirePoint {
		t := float64(i) / float64(n)
		angle := t * 6 * math.Pi
		r := t * maxRadius
		return api.WirePoint{X: math.Round(cx + r*math.Cos(angle)), Y: math.Round(cy + r*math.Sin(angle))}
	}

	segments := make([][2]api.WirePoint, 0, n)
	for i := range n {
		segments = append(segments, [2]api.WirePoint{at(i), at(i + 1)})
	}
	return segments
}

func logMessage(message []byte) {
	logger := slogging.Get().GetSlogger()

	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		logger.Warn("Failed to parse message type", "error", err, "raw_message", string(message))
		return
	}

	switch base.Type {
	case api.TypeSessionCreated, api.TypeSessionJoined:
		var msg api.SessionJoinedMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			logger.Info("Session bound", "type", msg.Type, "session_id", msg.SessionID, "room_id", msg.RoomID,
				"participants", msg.Participants, "canvas_bytes", len(msg.Canvas))
		}

	case api.TypeParticipantJoined, api.TypeParticipantLeft:
		var msg api.ParticipantsMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			logger.Info("Participants", "type", msg.Type, "participants", msg.Participants)
		}

	case api.TypeCanvasUpdate:
		var msg api.CanvasUpdateMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			logger.Info("Canvas update", "canvas_bytes", len(msg.Canvas))
		}

	case api.TypeMouseDraw:
		var msg api.MouseDrawMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			logger.Info("Stroke", "start", msg.Start, "end", msg.End, "color", msg.Color)
		}

	case api.TypeError:
		var msg api.ErrorMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			logger.Error("Server error", "message", msg.Message, "code", msg.ErrorCode)
		}

	default:
		logger.Info("Message", "type", base.Type)
	}

	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, message, "", "  "); err == nil && prettyJSON.Len() < 4096 {
		logger.Debug("Full message JSON", "json", prettyJSON.String())
	}
}
