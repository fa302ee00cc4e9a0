package slogging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/virtualpainter/painter/internal/uuidgen"
)

// RequestIDHeader carries the request correlation id
const RequestIDHeader = "X-Request-ID"

// GinContextLike defines a minimal interface for contexts that can be used with the logger
type GinContextLike interface {
	Get(key any) (any, bool)
	GetHeader(key string) string
	ClientIP() string
}

// GetContextLogger retrieves the request logger stored by LoggerMiddleware,
// falling back to the global logger
func GetContextLogger(c GinContextLike) SimpleLogger {
	if loggerInterface, exists := c.Get("logger"); exists {
		if logger, ok := loggerInterface.(SimpleLogger); ok {
			return logger
		}
	}
	return Get()
}

// WithContext returns a context-aware logger that includes request information
func (l *Logger) WithContext(c GinContextLike) *ContextLogger {
	requestID := c.GetHeader(RequestIDHeader)
	if requestID == "" {
		requestID = uuidgen.NewString(uuidgen.KindRequest)
		if setter, ok := c.(interface{ Header(string, string) }); ok {
			setter.Header(RequestIDHeader, requestID)
		}
	}

	ctx := context.Background()
	if gc, ok := c.(*gin.Context); ok && gc.Request != nil {
		ctx = gc.Request.Context()
	}

	return &ContextLogger{
		logger: l,
		slogger: l.slogger.With(
			slog.String("request_id", requestID),
			slog.String("client_ip", c.ClientIP()),
		),
		ctx:       ctx,
		requestID: requestID,
	}
}

// WithConnection returns a logger tagged with a websocket connection and its session
func (l *Logger) WithConnection(ctx context.Context, connectionID, sessionID string) *ContextLogger {
	return &ContextLogger{
		logger: l,
		slogger: l.slogger.With(
			slog.String("connection_id", connectionID),
			slog.String("session_id", sessionID),
		),
		ctx:       ctx,
		requestID: connectionID,
	}
}

// ContextLogger adds request or connection context to log messages
type ContextLogger struct {
	logger    *Logger
	slogger   *slog.Logger
	ctx       context.Context
	requestID string
}

// RequestID returns the correlation id attached to this logger
func (cl *ContextLogger) RequestID() string {
	return cl.requestID
}

func (cl *ContextLogger) logf(level LogLevel, format string, args ...any) {
	if cl.logger.level > level {
		return
	}
	message := format
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	}
	cl.slogger.Log(cl.ctx, level.toSlogLevel(), SanitizeLogMessage(ElideDataURLs(message)))
}

// Debug logs a debug-level message with context
func (cl *ContextLogger) Debug(format string, args ...any) { cl.logf(LogLevelDebug, format, args...) }

// Info logs an info-level message with context
func (cl *ContextLogger) Info(format string, args ...any) { cl.logf(LogLevelInfo, format, args...) }

// Warn logs a warning-level message with context
func (cl *ContextLogger) Warn(format string, args ...any) { cl.logf(LogLevelWarn, format, args...) }

// Error logs an error-level message with context
func (cl *ContextLogger) Error(format string, args ...any) { cl.logf(LogLevelError, format, args...) }

// DebugCtx logs a debug message with additional structured attributes
func (cl *ContextLogger) DebugCtx(msg string, attrs ...slog.Attr) {
	cl.slogger.LogAttrs(cl.ctx, slog.LevelDebug, msg, attrs...)
}

// InfoCtx logs an info message with additional structured attributes
func (cl *ContextLogger) InfoCtx(msg string, attrs ...slog.Attr) {
	cl.slogger.LogAttrs(cl.ctx, slog.LevelInfo, msg, attrs...)
}

// WarnCtx logs a warning message with additional structured attributes
func (cl *ContextLogger) WarnCtx(msg string, attrs ...slog.Attr) {
	cl.slogger.LogAttrs(cl.ctx, slog.LevelWarn, msg, attrs...)
}

// ErrorCtx logs an error message with additional structured attributes
func (cl *ContextLogger) ErrorCtx(msg string, attrs ...slog.Attr) {
	cl.slogger.LogAttrs(cl.ctx, slog.LevelError, msg, attrs...)
}

// WithAttrs returns a new ContextLogger with additional attributes
func (cl *ContextLogger) WithAttrs(attrs ...slog.Attr) *ContextLogger {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return &ContextLogger{
		logger:    cl.logger,
		slogger:   cl.slogger.With(args...),
		ctx:       cl.ctx,
		requestID: cl.requestID,
	}
}

// GetSlogger returns the underlying slog.Logger for this context
func (cl *ContextLogger) GetSlogger() *slog.Logger {
	return cl.slogger
}
