package session

import (
	"errors"
	"fmt"
)

// JSON-RPC error codes used in protocol error envelopes.
const (
	CodeParseError     = -32700
	CodeInvalidSession = -32000
	CodeInternalError  = -32603
)

// ErrShuttingDown is returned when a session is requested after Shutdown
// has started.
var ErrShuttingDown = errors.New("session manager is shutting down")

// ErrTransportClosed is returned by a transport that has already been closed.
var ErrTransportClosed = errors.New("transport closed")

// SessionNotFoundError is returned when a session ID does not resolve to a
// live session.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}

// IsSessionNotFound reports whether err is a SessionNotFoundError.
func IsSessionNotFound(err error) bool {
	var nf *SessionNotFoundError
	return errors.As(err, &nf)
}

// InitializeError is returned when the first frame of a session produced a
// JSON-RPC error. Response holds that error so it can be relayed.
type InitializeError struct {
	Response any
}

func (e *InitializeError) Error() string {
	return "initialize request was rejected"
}
