package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/virtualpainter/painter/internal/slogging"
)

// ComponentHealthStatus is the health of one component
type ComponentHealthStatus string

// Component health states
const (
	ComponentHealthStatusHealthy   ComponentHealthStatus = "healthy"
	ComponentHealthStatusDegraded  ComponentHealthStatus = "degraded"
	ComponentHealthStatusUnhealthy ComponentHealthStatus = "unhealthy"
	ComponentHealthStatusUnknown   ComponentHealthStatus = "unknown"
)

// BreakerStater exposes a circuit breaker state name
type BreakerStater interface {
	State() string
}

// QueueDepther exposes the number of queued background jobs
type QueueDepther interface {
	Pending() int
}

// Pinger is a backend that can report whether it is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker performs health checks on the persistence path
type HealthChecker struct {
	timeout  time.Duration
	breaker  BreakerStater
	queue    QueueDepther
	redis    redis.UniversalClient
	database Pinger
}

// NewHealthChecker creates a health checker. Any of breaker, queue and rdb
// may be nil when the component is not configured.
func NewHealthChecker(timeout time.Duration, breaker BreakerStater, queue QueueDepther, rdb redis.UniversalClient) *HealthChecker {
	return &HealthChecker{
		timeout: timeout,
		breaker: breaker,
		queue:   queue,
		redis:   rdb,
	}
}

// WithDatabase adds a relational backend to the checks
func (h *HealthChecker) WithDatabase(db Pinger) *HealthChecker {
	h.database = db
	return h
}

// ComponentHealthResult holds health check results for a single component
type ComponentHealthResult struct {
	Status    ComponentHealthStatus `json:"status"`
	LatencyMs int64                 `json:"latency_ms,omitempty"`
	Message   string                `json:"message"`
}

// SystemHealthResult holds health check results for all components
type SystemHealthResult struct {
	Persistence ComponentHealthResult  `json:"persistence"`
	Redis       *ComponentHealthResult `json:"redis,omitempty"`
	Database    *ComponentHealthResult `json:"database,omitempty"`
	// PendingWrites is the depth of the background persistence queue
	PendingWrites int                   `json:"pending_writes"`
	Overall       ComponentHealthStatus `json:"status"`
}

// CheckHealth performs health checks on all configured components. Only a
// failing store ping makes the system unhealthy; an open breaker degrades it.
func (h *HealthChecker) CheckHealth(ctx context.Context) SystemHealthResult {
	result := SystemHealthResult{
		Persistence: h.checkBreaker(),
		Overall:     ComponentHealthStatusHealthy,
	}
	if h.queue != nil {
		result.PendingWrites = h.queue.Pending()
	}

	if h.redis != nil {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		r := h.checkRedis(checkCtx)
		result.Redis = &r
		if r.Status == ComponentHealthStatusUnhealthy {
			result.Overall = ComponentHealthStatusUnhealthy
			return result
		}
	}

	if h.database != nil {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		d := h.checkDatabase(checkCtx)
		result.Database = &d
		if d.Status == ComponentHealthStatusUnhealthy {
			result.Overall = ComponentHealthStatusUnhealthy
			return result
		}
	}

	if result.Persistence.Status != ComponentHealthStatusHealthy {
		result.Overall = ComponentHealthStatusDegraded
	}
	return result
}

func (h *HealthChecker) checkBreaker() ComponentHealthResult {
	if h.breaker == nil {
		return ComponentHealthResult{Status: ComponentHealthStatusHealthy, Message: "Persistence disabled"}
	}
	switch state := h.breaker.State(); state {
	case "closed":
		return ComponentHealthResult{Status: ComponentHealthStatusHealthy, Message: "Circuit breaker closed"}
	case "half-open":
		return ComponentHealthResult{Status: ComponentHealthStatusDegraded, Message: "Circuit breaker half-open"}
	case "open":
		return ComponentHealthResult{Status: ComponentHealthStatusDegraded, Message: "Circuit breaker open; persistence disabled"}
	default:
		return ComponentHealthResult{Status: ComponentHealthStatusUnknown, Message: "Circuit breaker state " + state}
	}
}

// checkRedis performs a health check on Redis
func (h *HealthChecker) checkRedis(ctx context.Context) ComponentHealthResult {
	logger := slogging.Get()

	start := time.Now()
	err := h.redis.Ping(ctx).Err()
	latency := time.Since(start).Milliseconds()

	if err != nil {
		logger.Warn("Redis health check failed: %v", err)
		return ComponentHealthResult{
			Status:    ComponentHealthStatusUnhealthy,
			LatencyMs: latency,
			Message:   "Redis ping failed",
		}
	}

	logger.Debug("Redis health check passed (latency: %dms)", latency)
	return ComponentHealthResult{
		Status:    ComponentHealthStatusHealthy,
		LatencyMs: latency,
		Message:   "Redis is responsive",
	}
}

func (h *HealthChecker) checkDatabase(ctx context.Context) ComponentHealthResult {
	start := time.Now()
	err := h.database.Ping(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		slogging.Get().Warn("Database health check failed: %v", err)
		return ComponentHealthResult{
			Status:    ComponentHealthStatusUnhealthy,
			LatencyMs: latency,
			Message:   "Database ping failed",
		}
	}
	return ComponentHealthResult{
		Status:    ComponentHealthStatusHealthy,
		LatencyMs: latency,
		Message:   "Database is responsive",
	}
}
