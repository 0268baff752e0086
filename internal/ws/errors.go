package ws

import "errors"

// ErrNotConnected is returned when a send targets a session without a live
// connection.
var ErrNotConnected = errors.New("session has no live connection")
