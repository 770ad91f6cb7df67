package handler

import (
	"errors"
	"fmt"
)

// Programmer errors. These surface to the caller instead of being logged.
var (
	// ErrCannotHandle indicates Handle received a datagram that fails the RTCP probe.
	ErrCannotHandle = errors.New("packet is not a compound RTCP packet")

	// ErrResetWhileJoined indicates Reset was called on a joined session.
	ErrResetWhileJoined = errors.New("cannot reset a joined RTCP session")
)

// Construction errors.
var (
	// ErrNilStatistics indicates a handler created without statistics.
	ErrNilStatistics = errors.New("statistics cannot be nil")

	// ErrNilScheduler indicates a handler created without a scheduler.
	ErrNilScheduler = errors.New("scheduler cannot be nil")

	// ErrNilSender indicates a handler created without a sender.
	ErrNilSender = errors.New("sender cannot be nil")

	// ErrNilRemote indicates a handler created without a remote address.
	ErrNilRemote = errors.New("remote address cannot be nil")

	// ErrDuplicateSession indicates a session id already present in a registry.
	ErrDuplicateSession = errors.New("session already registered")
)

// SessionError represents an error with the session it occurred in.
type SessionError struct {
	Op        string // operation that caused the error
	SessionID string // session the operation ran in
	Err       error  // underlying error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("rtcp session %s %s: %v", e.SessionID, e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func newSessionError(op, sessionID string, err error) *SessionError {
	return &SessionError{
		Op:        op,
		SessionID: sessionID,
		Err:       err,
	}
}
