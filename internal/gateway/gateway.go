package gateway

import (
	"context"
	"log/slog"

	"github.com/user/checkmate/internal/types"
)

// FrameProcessor is the pipeline a dequeued frame runs through. Production
// is the orchestrator's ProcessFrame.
type FrameProcessor interface {
	ProcessFrame(ctx context.Context, frame *types.FrameBundle) (*types.FrameResult, error)
}

// Gateway accepts inbound frames and feeds them through the per-session
// queue into the processor.
type Gateway struct {
	Queue     *Queue
	processor FrameProcessor
	logger    *slog.Logger
}

// New creates a Gateway with the given concurrency limit for simultaneous
// frame processing.
func New(processor FrameProcessor, maxConcurrent int64, logger *slog.Logger) *Gateway {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	g := &Gateway{
		Queue:     NewQueue(maxConcurrent),
		processor: processor,
		logger:    logger,
	}
	g.Queue.SetProcessor(g.process)
	return g
}

// Start initialises the gateway's queue.
func (g *Gateway) Start(ctx context.Context) {
	g.Queue.Start(ctx)
}

// Stop drains the queue and waits for in-flight frames.
func (g *Gateway) Stop() {
	g.Queue.Stop()
}

// JobOption configures optional behavior on a Job.
type JobOption func(*Job)

// WithOnResult sets a callback invoked with the frame's outcome.
func WithOnResult(fn func(*types.FrameResult)) JobOption {
	return func(j *Job) { j.OnResult = fn }
}

// WithOnError sets a callback invoked when the frame fails.
func WithOnError(fn func(error)) JobOption {
	return func(j *Job) { j.OnError = fn }
}

// HandleFrame wraps the frame in a Job and enqueues it on the session's lane.
func (g *Gateway) HandleFrame(frame *types.FrameBundle, opts ...JobOption) error {
	job := NewJob(frame)
	for _, opt := range opts {
		opt(job)
	}
	return g.Queue.Enqueue(job)
}

// SessionEnded tears down the session's lane.
func (g *Gateway) SessionEnded(sessionID types.SessionID) {
	g.Queue.CloseLane(sessionID)
}

func (g *Gateway) process(job *Job) error {
	result, err := g.processor.ProcessFrame(job.Ctx, job.Frame)
	if err != nil {
		if job.OnError != nil {
			job.OnError(err)
		}
		return err
	}
	if job.OnResult != nil {
		job.OnResult(result)
	}
	return nil
}
