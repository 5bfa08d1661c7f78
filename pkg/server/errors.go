package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for transport conditions.
var (
	// ErrSecureCookiesRequired is returned when secure cookies are enabled
	// but the request did not arrive over TLS or a trusted TLS proxy.
	ErrSecureCookiesRequired = errors.New("server: secure cookies require a secure request")

	// ErrInvalidFrame is returned for WebSocket frames that cannot be
	// decoded.
	ErrInvalidFrame = errors.New("server: invalid frame")

	// ErrServerClosed is returned by Run after Shutdown.
	ErrServerClosed = errors.New("server: closed")
)

// SessionError reports a session store failure while serving a request.
type SessionError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("server: session %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: session %s %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// FrameError describes a WebSocket frame that failed to run.
type FrameError struct {
	SessionID string
	FrameID   int64
	Err       error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("server: frame %d in session %s: %v", e.FrameID, e.SessionID, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }
