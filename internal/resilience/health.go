package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type ServiceMode string

const (
	ModeFull      ServiceMode = "full"
	ModeReduced   ServiceMode = "reduced"
	ModeOffline   ServiceMode = "offline"
	ModeEmergency ServiceMode = "emergency"
)

const healthCheckInterval = 30 * time.Second

// Monitor derives the overall service mode from breaker states on a fixed
// interval. One open breaker degrades to reduced, half or more open goes
// offline, and all open is an emergency.
type Monitor struct {
	mu       sync.Mutex
	mode     ServiceMode
	breakers *Registry
	logger   *slog.Logger
}

func NewMonitor(breakers *Registry, logger *slog.Logger) *Monitor {
	return &Monitor{
		mode:     ModeFull,
		breakers: breakers,
		logger:   logger,
	}
}

func (m *Monitor) Mode() ServiceMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Run evaluates service health until the context is cancelled. Intended to
// be launched as a goroutine at startup.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evaluate()
		}
	}
}

func (m *Monitor) evaluate() {
	statuses := m.breakers.List()
	open := 0
	for _, s := range statuses {
		if s.State == StateOpen {
			open++
		}
	}

	mode := ModeFull
	switch {
	case len(statuses) > 0 && open == len(statuses):
		mode = ModeEmergency
	case open >= (len(statuses)+1)/2 && open > 1:
		mode = ModeOffline
	case open > 0:
		mode = ModeReduced
	}

	m.mu.Lock()
	prev := m.mode
	m.mode = mode
	m.mu.Unlock()

	if mode != prev {
		m.logger.Warn("service mode changed",
			"from", prev,
			"to", mode,
			"open_breakers", open,
			"total_breakers", len(statuses))
	}
}
