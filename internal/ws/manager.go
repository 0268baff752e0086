// Package ws owns the per-session WebSocket connections: registration,
// heartbeat liveness, and outbound delivery.
package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/user/checkmate/internal/types"
)

// Conn is the transport surface the manager needs. Production connections
// are gorilla/websocket; tests use fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

type record struct {
	conn     Conn
	lastSeen time.Time
}

// Manager keeps exactly one connection record per session. A reconnect for
// the same session replaces (and closes) the previous connection.
type Manager struct {
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[types.SessionID]*record
	now   func() time.Time
}

func NewManager(interval, timeout time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		conns:    make(map[types.SessionID]*record),
		now:      time.Now,
	}
}

// Register attaches a connection to the session, replacing any previous one.
func (m *Manager) Register(id types.SessionID, conn Conn) {
	m.mu.Lock()
	old, exists := m.conns[id]
	m.conns[id] = &record{conn: conn, lastSeen: m.now()}
	m.mu.Unlock()

	if exists {
		old.conn.Close()
		m.logger.Info("connection replaced", "session_id", id)
	} else {
		m.logger.Info("connection registered", "session_id", id)
	}
}

// Unregister removes the session's record, but only if it still refers to
// the given connection; a replaced connection's deferred cleanup must not
// evict its successor.
func (m *Manager) Unregister(id types.SessionID, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.conns[id]; ok && rec.conn == conn {
		delete(m.conns, id)
	}
}

// Touch records heartbeat receipt for the session.
func (m *Manager) Touch(id types.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.conns[id]; ok {
		rec.lastSeen = m.now()
	}
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Send delivers a message to the session's connection. A write failure
// evicts the connection.
func (m *Manager) Send(id types.SessionID, msg types.WSMessage) error {
	m.mu.Lock()
	rec, ok := m.conns[id]
	m.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	if err := rec.conn.WriteJSON(msg); err != nil {
		m.logger.Warn("send failed, evicting connection", "session_id", id, "error", err)
		m.evict(id, rec.conn)
		return err
	}
	return nil
}

// Disconnect closes and removes the session's connection, if any.
func (m *Manager) Disconnect(id types.SessionID) {
	m.mu.Lock()
	rec, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	m.mu.Unlock()
	if ok {
		rec.conn.Close()
	}
}

// Run drives the heartbeat sweep until the context is cancelled. The loop is
// owned by the process supervisor; its body is a no-op while no connections
// exist.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep sends a heartbeat to every connection and evicts those whose
// transport fails the write or that have been silent past the timeout.
func (m *Manager) sweep() {
	now := m.now()

	type entry struct {
		id    types.SessionID
		conn  Conn
		stale bool
	}
	m.mu.Lock()
	var entries []entry
	for id, rec := range m.conns {
		entries = append(entries, entry{id, rec.conn, now.Sub(rec.lastSeen) > m.timeout})
	}
	m.mu.Unlock()

	beat := types.NewWSMessage(types.MsgHeartbeat, nil)
	for _, e := range entries {
		if e.stale {
			m.logger.Warn("evicting stale connection", "session_id", e.id, "timeout", m.timeout)
			m.evict(e.id, e.conn)
			continue
		}
		if err := e.conn.WriteJSON(beat); err != nil {
			m.logger.Warn("heartbeat write failed, evicting connection", "session_id", e.id, "error", err)
			m.evict(e.id, e.conn)
		}
	}
}

func (m *Manager) evict(id types.SessionID, conn Conn) {
	m.mu.Lock()
	if rec, ok := m.conns[id]; ok && rec.conn == conn {
		delete(m.conns, id)
	}
	m.mu.Unlock()
	conn.Close()
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.conns {
		rec.conn.Close()
		delete(m.conns, id)
	}
}
