package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/virtualpainter/painter/internal/canvas"
	"github.com/virtualpainter/painter/internal/persistence"
	"github.com/virtualpainter/painter/internal/slogging"
	"github.com/virtualpainter/painter/internal/telemetry"
)

// RegistryOptions configures a SessionRegistry
type RegistryOptions struct {
	// Gateway is consulted for sessions that are not in memory. Nil disables restore.
	Gateway persistence.Gateway
	Canvas  canvas.Options
	// RestoreTimeout bounds one backend lookup
	RestoreTimeout time.Duration
	Metrics        *telemetry.Metrics
}

// Binding is the result of attaching a connection to a session
type Binding struct {
	Session *Session
	// Participants is the member count right after the connection was added
	Participants int
	// Created is set when the session did not exist before
	Created bool
	// Previous is the session the connection was bound to before, if different
	Previous             *Session
	PreviousParticipants int
}

// SessionRegistry maps session ids to sessions and connection ids to the
// session they are bound to. Its lock is never held while a session guard is.
type SessionRegistry struct {
	gateway        persistence.Gateway
	canvasOpts     canvas.Options
	restoreTimeout time.Duration
	metrics        *telemetry.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
	bindings map[string]string

	restores singleflight.Group
}

// NewSessionRegistry creates an empty registry
func NewSessionRegistry(opts RegistryOptions) *SessionRegistry {
	if opts.RestoreTimeout <= 0 {
		opts.RestoreTimeout = 10 * time.Second
	}
	return &SessionRegistry{
		gateway:        opts.Gateway,
		canvasOpts:     opts.Canvas,
		restoreTimeout: opts.RestoreTimeout,
		metrics:        opts.Metrics,
		sessions:       make(map[string]*Session),
		bindings:       make(map[string]string),
	}
}

// Create inserts a blank session unless one with the id exists, then binds
// member to it. An existing session keeps its room and canvas.
func (r *SessionRegistry) Create(sessionID, roomID string, member Peer) Binding {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		s = newSession(sessionID, roomID, canvas.New(r.canvasOpts), time.Now().UTC())
		r.sessions[sessionID] = s
		r.metrics.SessionCreated(context.Background())
		slogging.Get().Info("Created session %s in room %s", sessionID, roomID)
	}

	b := r.bindLocked(s, member)
	b.Created = !ok
	return b
}

// Lookup returns the in-memory session with the id
func (r *SessionRegistry) Lookup(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// LookupOrRestore returns the in-memory session, or materializes it from the
// persistence gateway. Concurrent restores of one id share a single backend
// call. It fails with a session_not_found *SessionError when neither has it.
func (r *SessionRegistry) LookupOrRestore(ctx context.Context, sessionID string) (*Session, error) {
	if s, ok := r.Lookup(sessionID); ok {
		return s, nil
	}
	if r.gateway == nil {
		return nil, &SessionError{Code: ErrCodeSessionNotFound, SessionID: sessionID}
	}

	v, err, _ := r.restores.Do(sessionID, func() (any, error) {
		if s, ok := r.Lookup(sessionID); ok {
			return s, nil
		}

		restoreCtx, cancel := context.WithTimeout(ctx, r.restoreTimeout)
		defer cancel()

		rec, err := r.gateway.GetSession(restoreCtx, sessionID)
		if err != nil {
			if !errors.Is(err, persistence.ErrNotFound) {
				slogging.Get().Warn("Failed to look up session %s in backend: %v", sessionID, err)
			}
			return nil, &SessionError{Code: ErrCodeSessionNotFound, SessionID: sessionID, Err: err}
		}
		return r.install(r.materialize(*rec)), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Join binds member to the session with the id, restoring it if needed
func (r *SessionRegistry) Join(ctx context.Context, sessionID string, member Peer) (Binding, error) {
	s, err := r.LookupOrRestore(ctx, sessionID)
	if err != nil {
		return Binding{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[sessionID] != s {
		// removed between lookup and bind
		return Binding{}, &SessionError{Code: ErrCodeSessionNotFound, SessionID: sessionID}
	}
	return r.bindLocked(s, member), nil
}

func (r *SessionRegistry) bindLocked(s *Session, member Peer) Binding {
	b := Binding{Session: s}
	if prevID, ok := r.bindings[member.ID()]; ok && prevID != s.ID {
		if prev, ok := r.sessions[prevID]; ok {
			b.Previous = prev
			b.PreviousParticipants, _ = prev.removeMember(member.ID())
		}
	}
	r.bindings[member.ID()] = s.ID
	b.Participants = s.addMember(member)
	return b
}

// Leave unbinds the connection. The session is retained whatever its
// remaining member count. Reports false when the connection was not bound.
func (r *SessionRegistry) Leave(memberID string) (*Session, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.bindings[memberID]
	if !ok {
		return nil, 0, false
	}
	delete(r.bindings, memberID)

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, 0, false
	}
	remaining, _ := s.removeMember(memberID)
	s.Touch()
	return s, remaining, true
}

// SessionFor returns the session the connection is bound to
func (r *SessionRegistry) SessionFor(memberID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessionID, ok := r.bindings[memberID]
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Remove deletes the session and unbinds its members, which are returned
func (r *SessionRegistry) Remove(sessionID string) (*Session, []Peer, bool) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return nil, nil, false
	}
	delete(r.sessions, sessionID)
	peers := s.clearMembers()
	for _, p := range peers {
		if r.bindings[p.ID()] == sessionID {
			delete(r.bindings, p.ID())
		}
	}
	r.mu.Unlock()

	r.metrics.SessionRemoved(context.Background(), false)
	slogging.Get().Info("Removed session %s (%d members unbound)", sessionID, len(peers))
	return s, peers, true
}

// Sessions returns all sessions ordered by id
func (r *SessionRegistry) Sessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of sessions in memory
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RestoreActive loads every session the backend reports as active and that
// is not already in memory. It returns the number of sessions installed.
func (r *SessionRegistry) RestoreActive(ctx context.Context) (int, error) {
	if r.gateway == nil {
		return 0, nil
	}
	records, err := r.gateway.ListActiveSessions(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, rec := range records {
		if rec.SessionID == "" {
			continue
		}
		if _, ok := r.Lookup(rec.SessionID); ok {
			continue
		}
		s := r.materialize(rec)
		if r.install(s) == s {
			restored++
		}
	}
	return restored, nil
}

// Reap removes sessions without members whose last activity is older than
// ttl, and returns their ids
func (r *SessionRegistry) Reap(now time.Time, ttl time.Duration) []string {
	cutoff := now.Add(-ttl)

	r.mu.Lock()
	var reaped []string
	for id, s := range r.sessions {
		if s.Participants() == 0 && s.LastActivity().Before(cutoff) {
			delete(r.sessions, id)
			reaped = append(reaped, id)
		}
	}
	r.mu.Unlock()

	for range reaped {
		r.metrics.SessionRemoved(context.Background(), true)
	}
	sort.Strings(reaped)
	return reaped
}

// install registers s unless a session with its id appeared meanwhile, in
// which case the existing one wins
func (r *SessionRegistry) install(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[s.ID]; ok {
		return existing
	}
	r.sessions[s.ID] = s
	r.metrics.SessionCreated(context.Background())
	slogging.Get().Info("Restored session %s in room %s", s.ID, s.RoomID)
	return s
}

// materialize builds an in-memory session from a backend record. Snapshots
// that fail to decode are logged and skipped.
func (r *SessionRegistry) materialize(rec persistence.SessionRecord) *Session {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	c := canvas.New(r.canvasOpts)
	s := newSession(rec.SessionID, rec.RoomID, c, createdAt)

	if rec.CanvasData != "" {
		img, err := canvas.DecodeDataURL(rec.CanvasData)
		if err != nil {
			slogging.Get().Warn("Failed to restore canvas for session %s: %v", rec.SessionID, err)
		} else {
			c.SetRaster(img)
		}
	}
	if canvas.IsPNGDataURL(rec.DrawingLayerData) {
		s.state.DrawingLayer = rec.DrawingLayerData
	}
	return s
}
