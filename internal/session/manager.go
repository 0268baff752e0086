package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/user/checkmate/internal/resilience"
	"github.com/user/checkmate/internal/types"
)

// Manager tracks live sessions and their persisted memory.
type Manager struct {
	store  types.SessionStore
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	runtime map[types.SessionID]*Runtime
	now     func() time.Time
}

func NewManager(store types.SessionStore, ttl time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		store:   store,
		ttl:     ttl,
		logger:  logger,
		runtime: make(map[types.SessionID]*Runtime),
		now:     time.Now,
	}
}

// Start creates a session with the given settings and persists its empty
// memory.
func (m *Manager) Start(ctx context.Context, settings types.SessionSettings) (types.SessionID, error) {
	id := types.NewSessionID()
	return id, m.StartWith(ctx, id, settings)
}

// StartWith creates a session under a caller-chosen id. Used when the
// client opens a socket before registering the session over REST.
func (m *Manager) StartWith(ctx context.Context, id types.SessionID, settings types.SessionSettings) error {
	memory := types.NewSessionMemory(settings)
	if err := m.store.Set(ctx, id, memory, m.ttl); err != nil {
		return err
	}

	now := m.now()
	m.mu.Lock()
	m.runtime[id] = &Runtime{StartedAt: now, LastFrameAt: now}
	m.mu.Unlock()

	m.logger.Info("session started",
		"session_id", id,
		"policy", settings.SessionType.Type,
		"strictness", settings.Strictness)
	return nil
}

// Memory loads the session's persisted memory. Sessions found in the store
// without runtime state (after a restart) get their runtime reconstructed
// from the timeline.
func (m *Manager) Memory(ctx context.Context, id types.SessionID) (*types.SessionMemory, error) {
	memory, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.recover(id, memory)
	return memory, nil
}

// Update persists replaced session memory and refreshes runtime markers.
// The manager step replaces memory wholesale, so Update overwrites rather
// than merges.
func (m *Manager) Update(ctx context.Context, id types.SessionID, memory *types.SessionMemory, route types.MediaRoute) error {
	if err := m.store.Set(ctx, id, memory, m.ttl); err != nil {
		return err
	}

	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtime[id]
	if !ok {
		rt = &Runtime{StartedAt: now.Add(-Elapsed(memory))}
		m.runtime[id] = rt
	}
	rt.LastFrameAt = now
	if route != types.RouteNone && route != "" {
		rt.LastRouteAt = now
	}
	if memory.CurrentActivity != nil && memory.CurrentActivity.ID != rt.ActivityID {
		rt.ActivityID = memory.CurrentActivity.ID
		rt.ActivityChangedAt = now
	}
	return nil
}

// Stop terminates the session and removes its memory.
func (m *Manager) Stop(ctx context.Context, id types.SessionID, reason EndReason) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.runtime, id)
	m.mu.Unlock()

	m.logger.Info("session ended", "session_id", id, "reason", reason)
	return nil
}

// CheckEnd evaluates the session's termination policy now.
func (m *Manager) CheckEnd(ctx context.Context, id types.SessionID) (EndReason, bool, error) {
	memory, err := m.Memory(ctx, id)
	if err != nil {
		return "", false, err
	}
	m.mu.Lock()
	rt := m.runtime[id]
	m.mu.Unlock()
	if rt == nil {
		return "", false, resilience.NewError(resilience.KindNotFound, "session:check_end", "no runtime for session: "+string(id), nil)
	}
	reason, end := ShouldEnd(memory, rt, m.now())
	return reason, end, nil
}

// Status summarizes one session for the control API.
type Status struct {
	ID         types.SessionID     `json:"sessionId"`
	Policy     types.SessionPolicy `json:"policy"`
	Strictness float64             `json:"strictness"`
	ElapsedSec int                 `json:"elapsedSec"`
	Claims     int                 `json:"claimsChecked"`
}

func (m *Manager) Status(ctx context.Context, id types.SessionID) (*Status, error) {
	memory, err := m.Memory(ctx, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	rt := m.runtime[id]
	m.mu.Unlock()

	elapsed := Elapsed(memory)
	if rt != nil {
		elapsed = m.now().Sub(rt.StartedAt)
	}
	return &Status{
		ID:         id,
		Policy:     memory.Settings.SessionType.Type,
		Strictness: memory.Settings.Strictness,
		ElapsedSec: int(elapsed / time.Second),
		Claims:     len(memory.LastClaimsChecked),
	}, nil
}

// List returns the ids of all persisted sessions.
func (m *Manager) List(ctx context.Context) ([]types.SessionID, error) {
	return m.store.List(ctx)
}

func (m *Manager) recover(id types.SessionID, memory *types.SessionMemory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runtime[id]; ok {
		return
	}
	now := m.now()
	m.runtime[id] = &Runtime{
		StartedAt:   now.Add(-Elapsed(memory)),
		LastFrameAt: now,
	}
	m.logger.Warn("reconstructed runtime for session", "session_id", id)
}
