package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/checkmate/internal/types"
)

const sweepSchedule = "@every 5m"

// EndHandler is notified when the sweeper terminates a session, before its
// memory is deleted. Used to push a session_end message to the client.
type EndHandler func(id types.SessionID, reason EndReason)

// Sweeper periodically evaluates TIME and ACTIVITY termination for every
// persisted session, ending the ones whose policy says they are over.
type Sweeper struct {
	manager *Manager
	onEnd   EndHandler
	cron    *cron.Cron
	logger  *slog.Logger
}

func NewSweeper(manager *Manager, onEnd EndHandler, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		manager: manager,
		onEnd:   onEnd,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start registers the sweep entry and starts the cron ticker.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(sweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop stops the cron ticker.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

// Sweep runs one evaluation pass over all live sessions.
func (s *Sweeper) Sweep(ctx context.Context) {
	ids, err := s.manager.List(ctx)
	if err != nil {
		s.logger.Error("sweep: list sessions", "error", err)
		return
	}

	ended := 0
	for _, id := range ids {
		reason, end, err := s.manager.CheckEnd(ctx, id)
		if err != nil {
			s.logger.Warn("sweep: check session", "session_id", id, "error", err)
			continue
		}
		if !end {
			continue
		}
		if s.onEnd != nil {
			s.onEnd(id, reason)
		}
		if err := s.manager.Stop(ctx, id, reason); err != nil {
			s.logger.Warn("sweep: stop session", "session_id", id, "error", err)
			continue
		}
		ended++
	}
	if ended > 0 {
		s.logger.Info("sweep completed", "checked", len(ids), "ended", ended)
	}
}
