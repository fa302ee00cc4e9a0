// Package uuidgen generates identifiers for runtime entities.
package uuidgen

import (
	"github.com/google/uuid"
)

// Kind is an entity that receives generated identifiers
type Kind string

const (
	// KindConnection identifies websocket connections. They use UUIDv7 so
	// that log lines sort by connection age.
	KindConnection Kind = "connection"
	// KindRequest identifies admin API requests
	KindRequest Kind = "request"
)

// New generates an identifier for the kind
func New(kind Kind) (uuid.UUID, error) {
	switch kind {
	case KindConnection:
		return uuid.NewV7()
	default:
		return uuid.NewRandom()
	}
}

// NewString is like New but returns the string form. It falls back to a
// random UUID if the time-ordered generator fails.
func NewString(kind Kind) string {
	id, err := New(kind)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
