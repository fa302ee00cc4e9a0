package persistence

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/virtualpainter/painter/internal/slogging"
	"github.com/virtualpainter/painter/internal/telemetry"
)

type job struct {
	op        string
	sessionID string
	run       func(ctx context.Context) error
}

// Dispatcher runs gateway writes on bounded queues served by a fixed pool of
// workers, so that a slow backend never blocks message processing. Each
// worker owns one queue and a session always maps to the same queue, so the
// writes of one session reach the backend in the order they were queued.
type Dispatcher struct {
	gateway Gateway
	queues  []chan job
	metrics *telemetry.Metrics

	mu      sync.RWMutex
	closed  bool
	started bool
	group   errgroup.Group
}

// NewDispatcher creates a dispatcher writing to gateway
func NewDispatcher(gateway Gateway, queueSize, workers int, metrics *telemetry.Metrics) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 1
	}
	perWorker := max((queueSize+workers-1)/workers, 1)
	queues := make([]chan job, workers)
	for i := range queues {
		queues[i] = make(chan job, perWorker)
	}
	return &Dispatcher{
		gateway: gateway,
		queues:  queues,
		metrics: metrics,
	}
}

// Start launches the workers. Jobs carry the values of ctx but not its
// cancellation: queued writes still run while Stop drains after shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	jobCtx := context.WithoutCancel(ctx)
	for _, q := range d.queues {
		d.group.Go(func() error {
			d.work(jobCtx, q)
			return nil
		})
	}
	slogging.Get().Info("Persistence dispatcher started with %d workers", len(d.queues))
}

// Stop refuses new jobs, lets the workers drain the queue and waits for them
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	started := d.started
	d.mu.Unlock()

	if started {
		_ = d.group.Wait()
	}
	slogging.Get().Info("Persistence dispatcher stopped")
}

// UpdateCanvasState queues a snapshot write; false when the job was dropped
func (d *Dispatcher) UpdateCanvasState(sessionID, imageDataURL string, isDrawingLayer bool) bool {
	return d.enqueue(job{
		op:        OpUpdateCanvasState,
		sessionID: sessionID,
		run: func(ctx context.Context) error {
			return d.gateway.UpdateCanvasState(ctx, sessionID, imageDataURL, isDrawingLayer)
		},
	})
}

// CreateUser queues a user registration; false when the job was dropped
func (d *Dispatcher) CreateUser(userName, sessionID, roomID string) bool {
	return d.enqueue(job{
		op:        OpCreateUser,
		sessionID: sessionID,
		run: func(ctx context.Context) error {
			return d.gateway.CreateUser(ctx, userName, sessionID, roomID)
		},
	})
}

// Pending returns the number of queued jobs
func (d *Dispatcher) Pending() int {
	n := 0
	for _, q := range d.queues {
		n += len(q)
	}
	return n
}

func (d *Dispatcher) queueFor(sessionID string) chan job {
	if len(d.queues) == 1 {
		return d.queues[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return d.queues[h.Sum32()%uint32(len(d.queues))]
}

func (d *Dispatcher) enqueue(j job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		slogging.Get().Warn("Persistence dispatcher stopped, dropping %s for session %s", j.op, j.sessionID)
		return false
	}

	select {
	case d.queueFor(j.sessionID) <- j:
		return true
	default:
		slogging.Get().Warn("Persistence queue full, dropping %s for session %s", j.op, j.sessionID)
		d.metrics.PersistenceDropped(context.Background(), j.op)
		return false
	}
}

func (d *Dispatcher) work(ctx context.Context, queue <-chan job) {
	logger := slogging.Get()
	for j := range queue {
		err := j.run(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrCircuitOpen):
			logger.Debug("Persistence disabled, skipped %s for session %s", j.op, j.sessionID)
		default:
			logger.Warn("Persistence %s for session %s failed: %v", j.op, j.sessionID, err)
		}
	}
}
