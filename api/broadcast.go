package api

import (
	"context"
	"encoding/json"

	"github.com/virtualpainter/painter/internal/slogging"
	"github.com/virtualpainter/painter/internal/telemetry"
)

// BroadcastHub delivers serialized messages to session members. A peer that
// cannot take a message is evicted: it would otherwise miss incremental
// updates and stay out of sync, while a reconnect resyncs it via session_joined.
type BroadcastHub struct {
	metrics *telemetry.Metrics
}

// NewBroadcastHub creates a hub recording delivery metrics
func NewBroadcastHub(metrics *telemetry.Metrics) *BroadcastHub {
	return &BroadcastHub{metrics: metrics}
}

// Broadcast sends payload to every member of s except the one with id
// excluding, and returns the number of members it was queued for
func (h *BroadcastHub) Broadcast(ctx context.Context, s *Session, messageType string, payload []byte, excluding string) int {
	if payload == nil {
		return 0
	}
	delivered := 0
	for _, p := range s.Members() {
		if p.ID() == excluding {
			continue
		}
		if h.deliver(ctx, s.ID, p, messageType, payload) {
			delivered++
		}
	}
	return delivered
}

// Send queues payload for one peer
func (h *BroadcastHub) Send(ctx context.Context, sessionID string, p Peer, messageType string, payload []byte) bool {
	if payload == nil {
		return false
	}
	return h.deliver(ctx, sessionID, p, messageType, payload)
}

func (h *BroadcastHub) deliver(ctx context.Context, sessionID string, p Peer, messageType string, payload []byte) bool {
	if !p.Enqueue(payload) {
		slogging.Get().Warn("Dropped %s message for connection %s in session %s, closing the connection: send queue full or closed",
			messageType, p.ID(), sessionID)
		h.metrics.SendQueueFull(ctx)
		p.Close()
		return false
	}
	h.metrics.MessageSent(ctx, messageType)
	return true
}

// encode serializes an outbound message. Outbound types are plain structs,
// so failure is logged and yields nil, which the hub refuses to send.
func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		slogging.Get().Error("Failed to marshal outbound %T: %v", v, err)
		return nil
	}
	return data
}
