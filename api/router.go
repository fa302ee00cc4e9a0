package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/virtualpainter/painter/internal/slogging"
)

// RouterOptions configures NewRouter
type RouterOptions struct {
	ServiceName string
	Debug       bool
	// Tracing adds otelgin spans to every request
	Tracing bool
	// LogRequests logs every admin request; /health and /metrics are never logged
	LogRequests bool
}

// NewRouter builds the gin engine with middleware and the server's routes
func NewRouter(s *Server, opts RouterOptions) *gin.Engine {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(slogging.Recoverer())
	if opts.Tracing {
		r.Use(otelgin.Middleware(opts.ServiceName))
	}
	if opts.LogRequests {
		r.Use(slogging.LoggerMiddleware("/health", "/metrics"))
	}

	s.RegisterHandlers(r)
	return r
}
