package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"

	"github.com/virtualpainter/painter/internal/slogging"
	"github.com/virtualpainter/painter/internal/telemetry"
)

// forever stands in for "never close the breaker again"
const forever = 100 * 365 * 24 * time.Hour

// ResilientOptions configures retries and the circuit breaker
type ResilientOptions struct {
	// FailureThreshold consecutive failed calls open the breaker
	FailureThreshold int
	// ResetTimeout lets a trial call through after the breaker opened; zero
	// keeps the breaker open for the rest of the process lifetime
	ResetTimeout time.Duration
	// RetryAttempts bounds the attempts of each write
	RetryAttempts int
	// RetryInterval is the fixed spacing between write attempts
	RetryInterval time.Duration
	// RequestTimeout bounds every single attempt
	RequestTimeout time.Duration
	Metrics        *telemetry.Metrics
}

// Resilient wraps a Gateway with per-attempt timeouts, fixed-backoff retry of
// writes and a circuit breaker that counts logical calls
type Resilient struct {
	gateway Gateway
	breaker *gobreaker.CircuitBreaker[struct{}]
	opts    ResilientOptions
}

// NewResilient wraps gateway
func NewResilient(gateway Gateway, opts ResilientOptions) *Resilient {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	resetTimeout := opts.ResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = forever
	}

	r := &Resilient{gateway: gateway, opts: opts}
	threshold := uint32(opts.FailureThreshold) // #nosec G115 -- validated positive
	r.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "persistence",
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				slogging.Get().Warn("Persistence disabled after %d consecutive failures (breaker %s: %s -> %s)",
					threshold, name, from, to)
			} else {
				slogging.Get().Info("Persistence breaker %s: %s -> %s", name, from, to)
			}
			opts.Metrics.BreakerState(context.Background(), int64(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	})
	return r
}

// State returns the breaker state: "closed", "half-open" or "open"
func (r *Resilient) State() string {
	return r.breaker.State().String()
}

// Unwrap returns the wrapped gateway
func (r *Resilient) Unwrap() Gateway {
	return r.gateway
}

// GetSession implements Gateway with a single attempt
func (r *Resilient) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	var rec *SessionRecord
	err := r.call(ctx, OpGetSession, 1, func(ctx context.Context) error {
		var err error
		rec, err = r.gateway.GetSession(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// CreateUser implements Gateway with bounded retry
func (r *Resilient) CreateUser(ctx context.Context, userName, sessionID, roomID string) error {
	return r.call(ctx, OpCreateUser, r.opts.RetryAttempts, func(ctx context.Context) error {
		return r.gateway.CreateUser(ctx, userName, sessionID, roomID)
	})
}

// UpdateCanvasState implements Gateway with bounded retry
func (r *Resilient) UpdateCanvasState(ctx context.Context, sessionID, imageDataURL string, isDrawingLayer bool) error {
	return r.call(ctx, OpUpdateCanvasState, r.opts.RetryAttempts, func(ctx context.Context) error {
		return r.gateway.UpdateCanvasState(ctx, sessionID, imageDataURL, isDrawingLayer)
	})
}

// ListActiveSessions implements Gateway with a single attempt
func (r *Resilient) ListActiveSessions(ctx context.Context) ([]SessionRecord, error) {
	var records []SessionRecord
	err := r.call(ctx, OpListActiveSessions, 1, func(ctx context.Context) error {
		var err error
		records, err = r.gateway.ListActiveSessions(ctx)
		return err
	})
	return records, err
}

// DeleteSession removes the session from backends that support it
func (r *Resilient) DeleteSession(ctx context.Context, sessionID string) error {
	deleter, ok := r.gateway.(SessionDeleter)
	if !ok {
		return nil
	}
	return r.call(ctx, "delete_session", 1, func(ctx context.Context) error {
		return deleter.DeleteSession(ctx, sessionID)
	})
}

func (r *Resilient) call(ctx context.Context, op string, attempts int, fn func(ctx context.Context) error) error {
	start := time.Now()

	_, err := r.breaker.Execute(func() (struct{}, error) {
		attempt := func() (struct{}, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, r.opts.RequestTimeout)
			defer cancel()

			err := fn(attemptCtx)
			if err != nil && !retryable(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}

		_, err := backoff.Retry(ctx, attempt,
			backoff.WithBackOff(backoff.NewConstantBackOff(r.opts.RetryInterval)),
			backoff.WithMaxTries(uint(attempts)), // #nosec G115 -- attempts is positive
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				slogging.Get().Debug("Persistence %s failed, retrying in %v: %v", op, next, err)
			}),
		)
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		return struct{}{}, err
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = ErrCircuitOpen
	}
	if errors.Is(err, ErrNotFound) {
		r.opts.Metrics.RecordPersistence(ctx, op, nil, time.Since(start))
		return err
	}
	r.opts.Metrics.RecordPersistence(ctx, op, err, time.Since(start))
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	return nil
}

// retryable reports whether another attempt could succeed
func retryable(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Temporary()
	}
	return true
}

var _ Gateway = (*Resilient)(nil)

