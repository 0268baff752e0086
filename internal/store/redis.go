package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/user/checkmate/internal/resilience"
	"github.com/user/checkmate/internal/types"
)

const sessionKeyPrefix = "checkmate:session:"

// RedisStore persists session memory in Redis with SETEX-driven expiry.
type RedisStore struct {
	pool *redis.Pool
}

// NewRedisStore creates a store backed by a connection pool for the given
// redis:// URL.
func NewRedisStore(url string) *RedisStore {
	return &RedisStore{
		pool: &redis.Pool{
			MaxIdle:     3,
			IdleTimeout: 240 * time.Second,
			DialContext: func(ctx context.Context) (redis.Conn, error) {
				return redis.DialURLContext(ctx, url)
			},
			TestOnBorrow: func(c redis.Conn, t time.Time) error {
				if time.Since(t) < time.Minute {
					return nil
				}
				_, err := c.Do("PING")
				return err
			},
		},
	}
}

// Ping verifies Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return wrapRedisErr("store:ping", err)
	}
	defer conn.Close()
	if _, err := conn.Do("PING"); err != nil {
		return wrapRedisErr("store:ping", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id types.SessionID) (*types.SessionMemory, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, wrapRedisErr("store:get", err)
	}
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", sessionKeyPrefix+string(id)))
	if err == redis.ErrNil {
		return nil, resilience.NewError(resilience.KindNotFound, "store:get", "session not found: "+string(id), nil)
	}
	if err != nil {
		return nil, wrapRedisErr("store:get", err)
	}

	var memory types.SessionMemory
	if err := json.Unmarshal(data, &memory); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &memory, nil
}

func (s *RedisStore) Set(ctx context.Context, id types.SessionID, memory *types.SessionMemory, ttl time.Duration) error {
	data, err := json.Marshal(memory)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", id, err)
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return wrapRedisErr("store:set", err)
	}
	defer conn.Close()

	seconds := int(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	if _, err := conn.Do("SETEX", sessionKeyPrefix+string(id), seconds, data); err != nil {
		return wrapRedisErr("store:set", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id types.SessionID) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return wrapRedisErr("store:delete", err)
	}
	defer conn.Close()

	if _, err := conn.Do("DEL", sessionKeyPrefix+string(id)); err != nil {
		return wrapRedisErr("store:delete", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]types.SessionID, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, wrapRedisErr("store:list", err)
	}
	defer conn.Close()

	var ids []types.SessionID
	cursor := 0
	for {
		values, err := redis.Values(conn.Do("SCAN", cursor, "MATCH", sessionKeyPrefix+"*", "COUNT", 100))
		if err != nil {
			return nil, wrapRedisErr("store:list", err)
		}
		var keys []string
		if _, err := redis.Scan(values, &cursor, &keys); err != nil {
			return nil, wrapRedisErr("store:list", err)
		}
		for _, key := range keys {
			ids = append(ids, types.SessionID(strings.TrimPrefix(key, sessionKeyPrefix)))
		}
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.pool.Close()
}

func wrapRedisErr(op string, err error) error {
	return resilience.NewError(resilience.KindUnavailable, op, "redis", err)
}
