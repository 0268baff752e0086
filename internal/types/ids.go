package types

import (
	"github.com/google/uuid"
)

type SessionID string
type FrameID string
type CorrelationID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewFrameID() FrameID {
	return FrameID(uuid.New().String())
}

func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.New().String())
}
