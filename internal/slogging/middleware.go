package slogging

import (
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggerMiddleware returns a Gin middleware for logging requests using slog.
// Requests whose path starts with one of skipPaths are served without logging.
func LoggerMiddleware(skipPaths ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := Get().WithContext(c)
		c.Set("logger", logger)

		for _, p := range skipPaths {
			if strings.HasPrefix(c.Request.URL.Path, p) {
				c.Next()
				return
			}
		}

		logger.DebugCtx("Request started",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("user_agent", c.GetHeader("User-Agent")),
		)

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		statusCode := c.Writer.Status()
		logAttrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status_code", statusCode),
			slog.Duration("duration", latency),
			slog.Int64("response_size", int64(c.Writer.Size())),
		}

		switch {
		case statusCode >= 500:
			logger.ErrorCtx("Request completed with server error", logAttrs...)
		case statusCode >= 400:
			logger.WarnCtx("Request completed with client error", logAttrs...)
		default:
			logger.InfoCtx("Request completed successfully", logAttrs...)
		}
	}
}

// Recoverer creates middleware for recovering from panics using slog
func Recoverer() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger, ok := c.Value("logger").(*ContextLogger)
				if !ok {
					logger = Get().WithContext(c)
				}

				buf := make([]byte, 2048)
				n := runtime.Stack(buf, false)

				logger.ErrorCtx("Panic recovered",
					slog.Any("panic_value", err),
					slog.String("stack_trace", string(buf[:n])),
					slog.String("method", c.Request.Method),
					slog.String("path", c.Request.URL.Path),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   "internal server error",
				})
			}
		}()
		c.Next()
	}
}
