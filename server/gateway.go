// Package server implements the presence gateway.
//
// Each live connection is a Session. A session authenticates implicitly with
// its first valid position report; from then on it receives the full
// broadcast feed. Writes go through the location store, the normalized
// record fans out to every authenticated session system-wide and the sender
// additionally gets an ack. Per-message failures are local: they produce a
// position_error to the sender and never close the connection.
package server

import (
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"uddhar.app/store"
)

// SessionState tracks the per-connection state machine
type SessionState int32

const (
	// SessionConnected means the socket is open with no identity bound
	SessionConnected SessionState = iota
	// SessionAuthenticated means an identity was bound by the first valid report
	SessionAuthenticated
	// SessionClosed is terminal, no further events are delivered
	SessionClosed
)

// Session is the server-side bookkeeping for one live connection.
// Created on connect, destroyed on disconnect, never persisted.
type Session struct {
	ID     string
	Events chan *Message
	Kill   chan bool

	mtx    sync.RWMutex
	state  SessionState
	userID string
}

// NewSession creates a session in the Connected state
func NewSession() *Session {
	return &Session{
		ID:     uuid.New().String(),
		Events: make(chan *Message, 64),
		Kill:   make(chan bool),
	}
}

// State returns the session's current lifecycle state
func (s *Session) State() SessionState {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.state
}

// UserID returns the bound identity, empty until authenticated
func (s *Session) UserID() string {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.userID
}

// bind transitions Connected -> Authenticated exactly once
func (s *Session) bind(userID string) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.state != SessionConnected {
		return false
	}
	s.state = SessionAuthenticated
	s.userID = userID
	return true
}

func (s *Session) close() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.state == SessionClosed {
		return
	}
	s.state = SessionClosed
	close(s.Kill)
}

// Gateway accepts inbound position reports over persistent connections,
// writes through the location store and broadcasts normalized updates to
// all subscribed connections.
type Gateway struct {
	store *store.Store
	push  *PushManager

	mtx      sync.RWMutex
	sessions map[string]*Session
	metadata map[string]*Metadata
}

// New creates a gateway over the given store
func New(st *store.Store) *Gateway {
	return &Gateway{
		store:    st,
		sessions: make(map[string]*Session),
		metadata: make(map[string]*Metadata),
	}
}

// SetPush enables proximity push alerts for accepted reports
func (g *Gateway) SetPush(pm *PushManager) {
	g.push = pm
}

// Connect registers a new session in the Connected state
func (g *Gateway) Connect() *Session {
	s := NewSession()

	g.mtx.Lock()
	g.sessions[s.ID] = s
	count := len(g.sessions)
	g.mtx.Unlock()

	log.Printf("[gateway] session %s connected (%d live)", s.ID, count)
	return s
}

// Disconnect transitions the session to Closed and releases its resources.
// The user's last known position remains in the store.
func (g *Gateway) Disconnect(s *Session) {
	g.mtx.Lock()
	delete(g.sessions, s.ID)
	count := len(g.sessions)
	g.mtx.Unlock()

	s.close()
	log.Printf("[gateway] session %s closed (%d live)", s.ID, count)
}

// Sessions returns the number of live sessions
func (g *Gateway) Sessions() int {
	g.mtx.RLock()
	defer g.mtx.RUnlock()
	return len(g.sessions)
}

// Handle processes one inbound frame from a session
func (g *Gateway) Handle(s *Session, raw []byte) {
	m, err := Decode(raw)
	if err != nil {
		g.sendTo(s, NewError(err.Error()))
		return
	}

	switch m.Type {
	case TypeHeartbeat:
		// opaque keep-alive, no response required
	case TypePositionReport:
		g.handleReport(s, m)
	default:
		g.sendTo(s, NewError("unexpected message type "+m.Type))
	}
}

func (g *Gateway) handleReport(s *Session, m *Message) {
	if err := m.ValidateReport(); err != nil {
		g.sendTo(s, NewError(err.Error()))
		return
	}

	rec, err := g.store.Upsert(m.Report())
	if err != nil {
		if !errors.Is(err, store.ErrUnknownUser) {
			log.Printf("[gateway] upsert for %s: %v", m.UserID, err)
		}
		g.sendTo(s, NewError(err.Error()))
		return
	}

	// first accepted report binds the session identity
	if s.bind(rec.UserID) {
		log.Printf("[gateway] session %s authenticated as %s (%s)", s.ID, rec.UserID, rec.Role)
	}

	broadcast := NewBroadcast(rec)
	broadcast.Metadata = g.getMetadata(rec.UserID)

	g.Broadcast(broadcast)

	ack := NewAck(rec)
	ack.Metadata = broadcast.Metadata
	g.sendTo(s, ack)

	if len(rec.Image) > 0 && broadcast.Metadata == nil && strings.HasPrefix(rec.Image, "http") {
		go g.unfurl(rec.UserID, rec.Image)
	}

	if g.push != nil {
		go g.push.NotifyNearby(g.store, rec)
	}
}

// Broadcast fans a message out to every authenticated session. A slow or
// dead consumer drops the message rather than stalling the producer.
func (g *Gateway) Broadcast(m *Message) {
	var sessions []*Session

	g.mtx.RLock()
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mtx.RUnlock()

	for _, s := range sessions {
		if s.State() != SessionAuthenticated {
			continue
		}
		select {
		case s.Events <- m:
		default:
		}
	}
}

// sendTo delivers a message to a single session, dropping if its buffer is
// full
func (g *Gateway) sendTo(s *Session, m *Message) {
	if s.State() == SessionClosed {
		return
	}
	select {
	case s.Events <- m:
	default:
		log.Printf("[gateway] session %s buffer full, dropped %s", s.ID, m.Type)
	}
}

func (g *Gateway) getMetadata(userID string) *Metadata {
	g.mtx.RLock()
	defer g.mtx.RUnlock()
	return g.metadata[userID]
}

func (g *Gateway) unfurl(userID, uri string) {
	md := GetMetadata(uri)
	if md == nil {
		return
	}
	g.mtx.Lock()
	g.metadata[userID] = md
	g.mtx.Unlock()
}
