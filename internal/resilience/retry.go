package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	ExponentialBase float64
	MaxDelay        time.Duration
	Jitter          bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		BaseDelay:       time.Second,
		ExponentialBase: 2.0,
		MaxDelay:        60 * time.Second,
		Jitter:          true,
	}
}

// NextDelay computes the backoff before the given attempt (0-based).
// Jitter scales the delay by a random factor in [0.5, 1.0).
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.ExponentialBase, float64(attempt)))
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()*0.5))
	}
	return d
}

// Executor runs guarded operations through the breaker registry with the
// retry policy applied.
type Executor struct {
	policy    RetryPolicy
	breakers  *Registry
	recoverer *Recoverer
	logger    *slog.Logger
}

func NewExecutor(breakers *Registry, logger *slog.Logger) *Executor {
	return &Executor{
		policy:   DefaultRetryPolicy(),
		breakers: breakers,
		logger:   logger,
	}
}

func (e *Executor) Breakers() *Registry { return e.breakers }

// SetRecoverer attaches the recovery-action menu consulted after retry
// exhaustion.
func (e *Executor) SetRecoverer(r *Recoverer) { e.recoverer = r }

// Do runs fn under the breaker named op, retrying retryable failures with
// exponential backoff. Rate-limited calls honor the server-suggested wait
// when one is present. Failures that exhaust all attempts are escalated to
// critical severity.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	breaker := e.breakers.Get(op)

	var lastErr error
	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		if !breaker.Allow() {
			return NewError(KindUnavailable, op, "circuit breaker open", nil)
		}
		if attempt > 0 {
			delay := e.policy.NextDelay(attempt - 1)
			var re *Error
			if errors.As(lastErr, &re) && re.Kind == KindRateLimit && re.RetryAfter > delay {
				delay = re.RetryAfter
			}
			e.logger.Warn("retrying operation",
				"op", op,
				"attempt", attempt+1,
				"delay", delay,
				"error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn(ctx)
		if err == nil {
			breaker.RecordSuccess()
			return nil
		}
		breaker.RecordFailure()
		lastErr = err
		if !Retryable(err) {
			return err
		}
	}

	var re *Error
	if !errors.As(lastErr, &re) {
		re = NewError(KindInternal, op, "all retry attempts exhausted", lastErr)
		lastErr = re
	}
	re.Severity = SeverityCritical

	if e.recoverer != nil {
		for _, action := range e.recoverer.ActionsFor(lastErr) {
			re.Suggestions = append(re.Suggestions, action.Name)
		}
		if e.recoverer.Attempt(ctx, lastErr) {
			// A recovery action resolved the underlying condition; the
			// call still failed but the session need not be torn down.
			re.Severity = SeverityHigh
		}
	}
	return lastErr
}
