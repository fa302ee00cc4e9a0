package api

import (
	"image"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/virtualpainter/painter/internal/canvas"
	"github.com/virtualpainter/painter/internal/gesture"
)

// Peer is a connected participant that can be sent serialized messages
type Peer interface {
	ID() string
	// Enqueue queues msg for delivery without blocking. It reports false when
	// the peer is gone or its queue is full.
	Enqueue(msg []byte) bool
	// Close disconnects the peer. The transport then runs the usual
	// disconnect path for it.
	Close()
}

// SessionState is the mutable part of a session. It is only reachable
// through Session.Apply, while the session guard is held.
type SessionState struct {
	Canvas  *canvas.Canvas
	Gesture *gesture.Machine
	// DrawingLayer is the last composite layer a client sent, as a data URL
	DrawingLayer string
}

// Session is one shared canvas and the participants connected to it
type Session struct {
	ID        string
	RoomID    string
	CreatedAt time.Time

	// mu guards state
	mu    sync.Mutex
	state SessionState

	// order serializes publication of the results of guarded operations so
	// that they leave in the order the operations completed
	order sync.Mutex

	// members is written by the registry under its own lock
	membersMu sync.RWMutex
	members   map[string]Peer

	lastActivity atomic.Int64
}

func newSession(id, roomID string, c *canvas.Canvas, createdAt time.Time) *Session {
	s := &Session{
		ID:        id,
		RoomID:    roomID,
		CreatedAt: createdAt,
		state: SessionState{
			Canvas:  c,
			Gesture: gesture.NewMachine(),
		},
		members: make(map[string]Peer),
	}
	s.Touch()
	return s
}

// Apply runs fn with the session guard held. The function fn returns, if
// any, runs after the guard is released but before the publish step of any
// later Apply, so broadcasts leave in mutation order. publish must not call
// Apply or Publish on the same session.
func (s *Session) Apply(fn func(st *SessionState) (publish func())) {
	s.mu.Lock()
	publish := fn(&s.state)
	s.order.Lock()
	s.mu.Unlock()
	defer s.order.Unlock()

	s.Touch()
	if publish != nil {
		publish()
	}
}

// Publish runs fn in the session's publication order without taking the guard
func (s *Session) Publish(fn func()) {
	s.order.Lock()
	defer s.order.Unlock()
	fn()
}

// Snapshot returns a copy of the raster and the drawing layer
func (s *Session) Snapshot() (*image.RGBA, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Canvas.Raster(), s.state.DrawingLayer
}

// Participants returns the number of connected members
func (s *Session) Participants() int {
	s.membersMu.RLock()
	defer s.membersMu.RUnlock()
	return len(s.members)
}

// Members returns the connected members, ordered by id
func (s *Session) Members() []Peer {
	s.membersMu.RLock()
	peers := make([]Peer, 0, len(s.members))
	for _, p := range s.members {
		peers = append(peers, p)
	}
	s.membersMu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].ID() < peers[j].ID() })
	return peers
}

// HasMember reports whether the connection id is a member
func (s *Session) HasMember(id string) bool {
	s.membersMu.RLock()
	defer s.membersMu.RUnlock()
	_, ok := s.members[id]
	return ok
}

func (s *Session) addMember(p Peer) int {
	s.membersMu.Lock()
	defer s.membersMu.Unlock()
	s.members[p.ID()] = p
	return len(s.members)
}

func (s *Session) removeMember(id string) (int, bool) {
	s.membersMu.Lock()
	defer s.membersMu.Unlock()
	_, ok := s.members[id]
	delete(s.members, id)
	return len(s.members), ok
}

func (s *Session) clearMembers() []Peer {
	s.membersMu.Lock()
	defer s.membersMu.Unlock()
	peers := make([]Peer, 0, len(s.members))
	for id, p := range s.members {
		peers = append(peers, p)
		delete(s.members, id)
	}
	return peers
}

// Touch records activity on the session
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the last recorded activity
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}
