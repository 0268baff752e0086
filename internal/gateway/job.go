// Package gateway serializes inbound frames into per-session lanes with a
// global concurrency limit, so frames for one session are processed strictly
// in arrival order while sessions proceed in parallel.
package gateway

import (
	"context"

	"github.com/user/checkmate/internal/types"
)

// Job is one frame awaiting processing.
type Job struct {
	ID        types.CorrelationID
	SessionID types.SessionID
	Frame     *types.FrameBundle
	Ctx       context.Context

	// OnResult receives the frame's outcome; OnError its failure. Either
	// may be nil when the submitter does not care.
	OnResult func(*types.FrameResult)
	OnError  func(error)
}

// NewJob wraps a frame bundle with a fresh correlation id.
func NewJob(frame *types.FrameBundle) *Job {
	return &Job{
		ID:        types.NewCorrelationID(),
		SessionID: frame.SessionID,
		Frame:     frame,
	}
}
