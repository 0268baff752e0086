package types

import (
	"encoding/json"
	"time"
)

// WSMessageType enumerates messages on the per-session duplex channel.
type WSMessageType string

const (
	// Inbound.
	MsgFrameBundle   WSMessageType = "frame_bundle"
	MsgPing          WSMessageType = "ping"
	MsgHeartbeat     WSMessageType = "heartbeat"
	MsgSessionStart  WSMessageType = "session_start"
	MsgSessionStop   WSMessageType = "session_stop"
	MsgSessionStatus WSMessageType = "session_status"

	// Outbound.
	MsgPong         WSMessageType = "pong"
	MsgHeartbeatAck WSMessageType = "heartbeat_ack"
	MsgNotification WSMessageType = "notification"
	MsgSessionEnd   WSMessageType = "session_end"
	MsgStatus       WSMessageType = "status"
	MsgError        WSMessageType = "error"
)

// WSMessage is the envelope for every message on the duplex channel.
type WSMessage struct {
	Type      WSMessageType   `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewWSMessage wraps a payload in an envelope stamped with the current time.
// Marshalling failures degrade to an empty data field; the envelope itself
// always goes out.
func NewWSMessage(t WSMessageType, payload any) WSMessage {
	msg := WSMessage{Type: t, Timestamp: time.Now().UTC()}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			msg.Data = data
		}
	}
	return msg
}

// ErrorPayload is the data field of an outbound error frame.
type ErrorPayload struct {
	ErrorType     string        `json:"errorType"`
	Severity      string        `json:"severity"`
	Message       string        `json:"message"`
	Details       string        `json:"details,omitempty"`
	CorrelationID CorrelationID `json:"correlationId,omitempty"`
	RetryAfterSec int           `json:"retryAfterSec,omitempty"`
}

// HeartbeatAck is the data field of a heartbeat acknowledgement.
type HeartbeatAck struct {
	Status          string `json:"status"`
	ConnectionCount int    `json:"connectionCount"`
}

// SessionEndPayload explains why the server ended a session.
type SessionEndPayload struct {
	Reason string `json:"reason"`
}
