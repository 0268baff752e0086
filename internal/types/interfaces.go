package types

import (
	"context"
	"time"
)

// SessionStore persists SessionMemory keyed by session id with a TTL.
type SessionStore interface {
	Get(ctx context.Context, id SessionID) (*SessionMemory, error)
	Set(ctx context.Context, id SessionID, memory *SessionMemory, ttl time.Duration) error
	Delete(ctx context.Context, id SessionID) error
	List(ctx context.Context) ([]SessionID, error)
}

// BlobStore holds frame images for the lifetime of a session.
type BlobStore interface {
	Upload(ctx context.Context, data []byte, sessionID SessionID) (ref string, err error)
	URL(ref string) (string, error)
}
