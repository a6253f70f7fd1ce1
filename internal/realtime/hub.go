// Package realtime carries live chat and queue-status traffic between
// authenticated sessions over WebSocket connections.
package realtime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/queuedesk-io/queuedesk/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// EventHandler consumes inbound events and the explicit disconnect
// lifecycle event. Implemented by Dispatcher; faked in tests.
type EventHandler interface {
	HandleEvent(ctx context.Context, s *Session, ev Event)
	HandleDisconnect(ctx context.Context, s *Session)
}

// Session is one live, authenticated connection. The identity and role come
// from the validated session credential and are trusted downstream.
type Session struct {
	UserID uint
	Email  string
	Name   string
	Role   string

	hub       *Hub
	conn      *websocket.Conn
	send      chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// close marks the session dead and tears down the connection. Safe to call
// from any goroutine, any number of times.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

// Hub is the connection registry: one live session per identity, keyed by
// user ID. A second connection for the same identity replaces the first.
type Hub struct {
	mu       sync.RWMutex
	sessions map[uint]*Session
	handler  EventHandler
}

// NewHub creates an empty connection registry.
func NewHub() *Hub {
	return &Hub{sessions: make(map[uint]*Session)}
}

// SetHandler attaches the event dispatcher. Must be called before any
// connection registers.
func (h *Hub) SetHandler(handler EventHandler) {
	h.handler = handler
}

// NewSession builds a session for a validated identity. The caller starts
// the pumps.
func (h *Hub) NewSession(conn *websocket.Conn, userID uint, email, name, role string) *Session {
	return &Session{
		UserID: userID,
		Email:  email,
		Name:   name,
		Role:   role,
		hub:    h,
		conn:   conn,
		send:   make(chan Event, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// Register adds the session to the registry. Last connection wins: an
// existing session for the same identity is closed and replaced.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	prev, replaced := h.sessions[s.UserID]
	h.sessions[s.UserID] = s
	h.mu.Unlock()

	if replaced {
		prev.close()
	}
	log.Printf("realtime: session connected user=%d role=%s", s.UserID, s.Role)
}

// Unregister removes the session and fires the disconnect lifecycle event.
// A session that was already replaced by a newer connection is ignored.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	current, ok := h.sessions[s.UserID]
	if !ok || current != s {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.UserID)
	h.mu.Unlock()

	s.close()
	log.Printf("realtime: session disconnected user=%d role=%s", s.UserID, s.Role)
	if h.handler != nil {
		h.handler.HandleDisconnect(context.Background(), s)
	}
}

// SendToUser delivers an event to the identity's live connection, if any.
// Delivery is fire-and-forget: a missing or saturated connection is not an
// error.
func (h *Hub) SendToUser(userID uint, ev Event) bool {
	h.mu.RLock()
	s, ok := h.sessions[userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return s.trySend(ev)
}

// BroadcastToRole pushes an event to every connected session with the role.
// A slow connection never blocks the others.
func (h *Hub) BroadcastToRole(role string, ev Event) int {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.Role == role {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, s := range targets {
		if s.trySend(ev) {
			sent++
		}
	}
	return sent
}

// Connected reports whether the identity has a live session.
func (h *Hub) Connected(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[userID]
	return ok
}

// SessionCount returns the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// EngineerCount returns the number of connected engineer sessions.
func (h *Hub) EngineerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, s := range h.sessions {
		if s.Role == models.RoleEngineer {
			n++
		}
	}
	return n
}

// trySend enqueues without blocking. Events to a dead session or a full
// buffer are dropped; best-effort delivery only covers currently-responsive
// sockets.
func (s *Session) trySend(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- ev:
		return true
	default:
		log.Printf("realtime: dropping %s event for user %d (buffer full)", ev.Type, s.UserID)
		return false
	}
}

// Send queues an event for the session itself.
func (s *Session) Send(ev Event) {
	s.trySend(ev)
}

// readPump pumps inbound events from the connection into the dispatcher.
// Dispatching is synchronous, so events from one session keep their order.
func (s *Session) readPump() {
	defer func() {
		s.hub.Unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var ev Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("realtime: read error user=%d: %v", s.UserID, err)
			}
			break
		}
		if s.hub.handler != nil {
			s.hub.handler.HandleEvent(context.Background(), s, ev)
		}
	}
}

// writePump pumps queued events to the connection and keeps it alive with
// pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case ev := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
