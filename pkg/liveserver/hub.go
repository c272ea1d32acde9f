package liveserver

import (
	"context"
	"sync"
)

const sessionQueueSize = 256

// Session is the outbound queue of one websocket connection
type Session struct {
	id string

	mu     sync.Mutex
	out    chan Message
	closed bool
}

// NewSession creates a session with a buffered outbox
func NewSession(id string) *Session {
	return &Session{id: id, out: make(chan Message, sessionQueueSize)}
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// Enqueue queues msg without blocking. It reports false when the session is
// closed or its outbox is full.
func (s *Session) Enqueue(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

// Outbox is drained by the connection's writer
func (s *Session) Outbox() <-chan Message { return s.out }

// Close closes the outbox; it is safe to call more than once
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

// Logger is the subset of core.ILogger the live server needs
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Hub is the registry of open sessions. Replies go straight to the
// requesting session; the hub only fans out server notices such as shutdown.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	stopped  bool
	logger   Logger
}

// NewHub creates an empty hub
func NewHub(logger Logger) *Hub {
	return &Hub{sessions: make(map[string]*Session), logger: logger}
}

// Run blocks until ctx is done, then shuts the hub down
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.Shutdown()
}

// Shutdown queues a shutdown notice on every session, closes them and refuses
// new ones. It returns how many sessions accepted the notice. Only the first
// call has any effect.
func (h *Hub) Shutdown() int {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return 0
	}
	h.stopped = true
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	notice := NewMessage(TypeShutdown, nil)
	notified := 0
	for _, s := range sessions {
		// The writer drains queued messages before it sees the closed outbox
		if s.Enqueue(notice) {
			notified++
		}
		s.Close()
	}
	if h.logger != nil {
		h.logger.Info("Hub stopped", "closed_sessions", len(sessions), "notified_sessions", notified)
	}
	return notified
}

// Register adds s. It returns false once the hub has stopped.
func (h *Hub) Register(s *Session) bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	h.sessions[s.id] = s
	total := len(h.sessions)
	h.mu.Unlock()

	if h.logger != nil {
		h.logger.Debug("Session registered", "session_id", s.id, "total_sessions", total)
	}
	return true
}

// Unregister removes s and closes its outbox
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	if cur, ok := h.sessions[s.id]; ok && cur == s {
		delete(h.sessions, s.id)
	}
	total := len(h.sessions)
	h.mu.Unlock()

	s.Close()
	if h.logger != nil {
		h.logger.Debug("Session unregistered", "session_id", s.id, "total_sessions", total)
	}
}

// Broadcast queues msg on every session and returns how many accepted it.
// Sessions whose outbox is full are dropped.
func (h *Hub) Broadcast(msg Message) int {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.Enqueue(msg) {
			delivered++
			continue
		}
		if h.logger != nil {
			h.logger.Warn("Dropping slow session", "session_id", s.id, "type", msg.Type)
		}
		h.Unregister(s)
	}
	return delivered
}

// ClientCount returns the number of open sessions
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
