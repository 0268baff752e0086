package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/user/checkmate/internal/resilience"
	"github.com/user/checkmate/internal/types"
)

var _ types.SessionStore = (*FallbackStore)(nil)
var _ types.SessionStore = (*MemoryStore)(nil)
var _ types.SessionStore = (*RedisStore)(nil)

// FallbackStore serves from a primary store and degrades to a secondary when
// the primary is unavailable. Writes land on both so that sessions survive a
// primary outage mid-flight; not-found results from the primary are also
// retried against the fallback in case the write happened during an outage.
type FallbackStore struct {
	primary  types.SessionStore
	fallback types.SessionStore
	logger   *slog.Logger
}

func NewFallbackStore(primary, fallback types.SessionStore, logger *slog.Logger) *FallbackStore {
	return &FallbackStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (s *FallbackStore) Get(ctx context.Context, id types.SessionID) (*types.SessionMemory, error) {
	memory, err := s.primary.Get(ctx, id)
	if err == nil {
		return memory, nil
	}
	if unavailable(err) {
		s.logger.Warn("primary store unavailable, using fallback", "op", "get", "session_id", id)
	} else if resilience.Classify(err) != resilience.KindNotFound {
		return nil, err
	}
	return s.fallback.Get(ctx, id)
}

func (s *FallbackStore) Set(ctx context.Context, id types.SessionID, memory *types.SessionMemory, ttl time.Duration) error {
	fallbackErr := s.fallback.Set(ctx, id, memory, ttl)
	if err := s.primary.Set(ctx, id, memory, ttl); err != nil {
		if !unavailable(err) {
			return err
		}
		s.logger.Warn("primary store unavailable, wrote fallback only", "op", "set", "session_id", id)
		return fallbackErr
	}
	return nil
}

func (s *FallbackStore) Delete(ctx context.Context, id types.SessionID) error {
	fallbackErr := s.fallback.Delete(ctx, id)
	if err := s.primary.Delete(ctx, id); err != nil {
		if !unavailable(err) {
			return err
		}
		s.logger.Warn("primary store unavailable, deleted from fallback only", "op", "delete", "session_id", id)
		return fallbackErr
	}
	return nil
}

func (s *FallbackStore) List(ctx context.Context) ([]types.SessionID, error) {
	ids, err := s.primary.List(ctx)
	if err == nil {
		return ids, nil
	}
	if !unavailable(err) {
		return nil, err
	}
	s.logger.Warn("primary store unavailable, listing fallback", "op", "list")
	return s.fallback.List(ctx)
}

func unavailable(err error) bool {
	var re *resilience.Error
	if errors.As(err, &re) {
		return re.Kind == resilience.KindUnavailable || re.Kind == resilience.KindNetwork
	}
	return false
}
