// Package orchestrator runs the per-frame pipeline: manager step, routing
// validation, media checker dispatch, strictness filtering, and notification
// synthesis.
package orchestrator

import (
	"context"
	"log/slog"

	"github.com/user/checkmate/internal/session"
	"github.com/user/checkmate/internal/types"
)

// Orchestrator processes frame bundles for live sessions.
type Orchestrator struct {
	manager  *ManagerStep
	checker  *Checker
	sessions *session.Manager
	logger   *slog.Logger
}

func New(manager *ManagerStep, checker *Checker, sessions *session.Manager, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		manager:  manager,
		checker:  checker,
		sessions: sessions,
		logger:   logger,
	}
}

// ProcessFrame runs one frame through the pipeline. Frames for the same
// session are serialized by the gateway, so the read-modify-write on session
// memory here is race-free.
func (o *Orchestrator) ProcessFrame(ctx context.Context, frame *types.FrameBundle) (*types.FrameResult, error) {
	memory, err := o.sessions.Memory(ctx, frame.SessionID)
	if err != nil {
		return nil, err
	}

	reply, err := o.manager.Run(ctx, memory, frame)
	if err != nil {
		// Hard failure: no partial memory update is committed
		return nil, err
	}

	var result *types.FactCheckResult
	if reply.Route != types.RouteNone && !reply.EndSession {
		result, err = o.checker.Check(ctx, reply.Route, reply.AgentContext, memory.Settings.Strictness)
		if err != nil {
			// Checker failure degrades to the manager's own notifications
			o.logger.Warn("checker degraded to manager-only response",
				"session_id", frame.SessionID,
				"route", reply.Route,
				"error", err)
			result = nil
		}
	}

	updated := reply.UpdatedMemory
	updated.Settings = memory.Settings
	updated.LastClaimsChecked = memory.LastClaimsChecked
	if result != nil {
		updated.RecordClaims(checkedClaims(result))
	}

	notifications := synthesize(reply.Notifications, result, memory.Settings.Notify)

	if err := o.sessions.Update(ctx, frame.SessionID, updated, reply.Route); err != nil {
		return nil, err
	}

	endSession := reply.EndSession
	if !endSession {
		if _, end, err := o.sessions.CheckEnd(ctx, frame.SessionID); err == nil && end {
			endSession = true
		}
	}

	return &types.FrameResult{
		UpdatedMemory: updated,
		Route:         reply.Route,
		Notifications: notifications,
		EndSession:    endSession,
	}, nil
}

// checkedClaims folds a checker verdict into the bounded claim history.
func checkedClaims(result *types.FactCheckResult) []types.CheckedClaim {
	out := make([]types.CheckedClaim, 0, len(result.Claims))
	for _, c := range result.Claims {
		out = append(out, types.CheckedClaim{
			Claim:   c.Text,
			Status:  c.Label,
			Sources: c.Sources,
		})
	}
	return out
}
