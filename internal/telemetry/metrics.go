package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Frame outcomes recorded by RecordFrame
const (
	FrameRendered = "rendered"
	FrameIdle     = "idle"
	FrameDropped  = "dropped"
	FrameError    = "error"
)

// Metrics holds the painter instruments. A nil *Metrics records nothing.
type Metrics struct {
	connectionsActive metric.Int64UpDownCounter
	sessionsActive    metric.Int64UpDownCounter
	messagesReceived  metric.Int64Counter
	messagesSent      metric.Int64Counter
	sendQueueFull     metric.Int64Counter
	framesProcessed   metric.Int64Counter
	frameDuration     metric.Float64Histogram
	gestureEvents     metric.Int64Counter
	persistenceCalls  metric.Int64Counter
	persistenceTime   metric.Float64Histogram
	breakerState      metric.Int64Gauge
	persistDropped    metric.Int64Counter
	sessionsReaped    metric.Int64Counter
}

// NewMetrics creates the painter instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	mb := newMetricBuilder(meter)
	m := &Metrics{
		connectionsActive: mb.Int64UpDownCounter("painter_connections_active", "Number of open websocket connections", "{connection}"),
		sessionsActive:    mb.Int64UpDownCounter("painter_sessions_active", "Number of sessions held in memory", "{session}"),
		messagesReceived:  mb.Int64Counter("painter_messages_received_total", "Inbound websocket messages by type", "1"),
		messagesSent:      mb.Int64Counter("painter_messages_sent_total", "Outbound websocket messages by type", "1"),
		sendQueueFull:     mb.Int64Counter("painter_send_queue_full_total", "Outbound messages dropped because a peer queue was full", "1"),
		framesProcessed:   mb.Int64Counter("painter_frames_processed_total", "Camera frames processed by outcome", "1"),
		frameDuration: mb.Float64Histogram("painter_frame_processing_seconds", "Time to decode and apply a camera frame", "s",
			[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}),
		gestureEvents:    mb.Int64Counter("painter_gesture_events_total", "Gesture lifecycle events emitted", "1"),
		persistenceCalls: mb.Int64Counter("painter_persistence_calls_total", "Persistence gateway calls by operation and outcome", "1"),
		persistenceTime: mb.Float64Histogram("painter_persistence_call_seconds", "Duration of persistence gateway calls", "s",
			[]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}),
		breakerState:   mb.Int64Gauge("painter_persistence_breaker_state", "Persistence circuit breaker state: 0 closed, 1 half-open, 2 open", "{state}"),
		persistDropped: mb.Int64Counter("painter_persistence_dropped_total", "Background persistence jobs dropped because the queue was full", "1"),
		sessionsReaped: mb.Int64Counter("painter_sessions_reaped_total", "Sessions evicted by the retention reaper", "1"),
	}
	if err := mb.Error(); err != nil {
		return nil, err
	}
	return m, nil
}

// ConnectionOpened records a new websocket connection
func (m *Metrics) ConnectionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsActive.Add(ctx, 1)
}

// ConnectionClosed records a closed websocket connection
func (m *Metrics) ConnectionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsActive.Add(ctx, -1)
}

// SessionCreated records a session entering the registry
func (m *Metrics) SessionCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsActive.Add(ctx, 1)
}

// SessionRemoved records a session leaving the registry
func (m *Metrics) SessionRemoved(ctx context.Context, reaped bool) {
	if m == nil {
		return
	}
	m.sessionsActive.Add(ctx, -1)
	if reaped {
		m.sessionsReaped.Add(ctx, 1)
	}
}

// MessageReceived counts an inbound message
func (m *Metrics) MessageReceived(ctx context.Context, messageType string) {
	if m == nil {
		return
	}
	m.messagesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("type", messageType)))
}

// MessageSent counts an outbound message
func (m *Metrics) MessageSent(ctx context.Context, messageType string) {
	if m == nil {
		return
	}
	m.messagesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("type", messageType)))
}

// SendQueueFull counts a message that could not be queued for a peer
func (m *Metrics) SendQueueFull(ctx context.Context) {
	if m == nil {
		return
	}
	m.sendQueueFull.Add(ctx, 1)
}

// RecordFrame records a processed frame with its outcome
func (m *Metrics) RecordFrame(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.framesProcessed.Add(ctx, 1, attrs)
	m.frameDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// GestureEvent counts an emitted gesture event
func (m *Metrics) GestureEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.gestureEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", eventType)))
}

// RecordPersistence records one logical persistence call
func (m *Metrics) RecordPersistence(ctx context.Context, operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.persistenceCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
	m.persistenceTime.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("operation", operation)))
}

// BreakerState records the persistence circuit breaker state
func (m *Metrics) BreakerState(ctx context.Context, state int64) {
	if m == nil {
		return
	}
	m.breakerState.Record(ctx, state)
}

// PersistenceDropped counts a background job dropped on a full queue
func (m *Metrics) PersistenceDropped(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.persistDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}
