package api

import (
	"context"
	"time"

	"github.com/virtualpainter/painter/internal/slogging"
)

// Reaper periodically removes sessions that have had no members for longer
// than the retention TTL
type Reaper struct {
	registry *SessionRegistry
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewReaper creates a reaper. A non-positive interval defaults to a fifth of
// the TTL, capped at five minutes.
func NewReaper(registry *SessionRegistry, ttl, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = min(ttl/5, 5*time.Minute)
		if interval <= 0 {
			interval = time.Minute
		}
	}
	return &Reaper{registry: registry, ttl: ttl, interval: interval, now: time.Now}
}

// Run reaps on every tick until ctx ends
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.ReapOnce()
		case <-ctx.Done():
			return
		}
	}
}

// ReapOnce performs one pass and returns the removed session ids
func (r *Reaper) ReapOnce() []string {
	reaped := r.registry.Reap(r.now(), r.ttl)
	if len(reaped) > 0 {
		slogging.Get().Info("Reaped %d idle sessions: %v", len(reaped), reaped)
	}
	return reaped
}
