package slogging

import (
	"context"
	"encoding/json"
	"log/slog"
)

// WebSocketLoggingConfig holds configuration for WebSocket message logging
type WebSocketLoggingConfig struct {
	Enabled        bool
	MaxMessageSize int64 // Max message size to log (in bytes)
	OnlyDebugLevel bool  // Only log at debug level
}

// WSMessageDirection indicates the direction of the WebSocket message
type WSMessageDirection string

const (
	WSMessageInbound  WSMessageDirection = "INBOUND"
	WSMessageOutbound WSMessageDirection = "OUTBOUND"
)

// LogWebSocketMessage logs a WebSocket message with image payloads elided
func LogWebSocketMessage(direction WSMessageDirection, sessionID, connectionID, messageType string, data []byte, config WebSocketLoggingConfig) {
	if !config.Enabled {
		return
	}

	logger := Get()
	if config.OnlyDebugLevel && logger.level > LogLevelDebug {
		return
	}

	attrs := []slog.Attr{
		slog.String("direction", string(direction)),
		slog.String("connection_id", connectionID),
		slog.String("session_id", sessionID),
		slog.String("message_type", messageType),
		slog.Int("size_bytes", len(data)),
	}

	var messageData any
	switch {
	case config.MaxMessageSize > 0 && int64(len(data)) > config.MaxMessageSize:
		attrs = append(attrs, slog.Bool("truncated", true))
	case json.Unmarshal(data, &messageData) == nil:
		attrs = append(attrs, slog.Any("message_data", elideJSONValue(messageData)))
	default:
		attrs = append(attrs, slog.String("message_content", ElideDataURLs(string(data))))
	}

	logger.slogger.LogAttrs(context.Background(), slog.LevelDebug, "WebSocket message", attrs...)
}

// elideJSONValue replaces data URLs anywhere in a decoded JSON value
func elideJSONValue(v any) any {
	switch value := v.(type) {
	case string:
		if len(value) > 5 && value[:5] == "data:" {
			return summarizeValue(value)
		}
		return value
	case map[string]any:
		result := make(map[string]any, len(value))
		for k, item := range value {
			result[k] = elideJSONValue(item)
		}
		return result
	case []any:
		result := make([]any, len(value))
		for i, item := range value {
			result[i] = elideJSONValue(item)
		}
		return result
	default:
		return v
	}
}

// LogWebSocketConnection logs WebSocket connection lifecycle events
func LogWebSocketConnection(event, connectionID, sessionID string, config WebSocketLoggingConfig) {
	if !config.Enabled {
		return
	}

	Get().slogger.LogAttrs(context.Background(), slog.LevelInfo, "WebSocket connection event",
		slog.String("event", event),
		slog.String("connection_id", connectionID),
		slog.String("session_id", sessionID),
	)
}
