package session

import "errors"

// Sentinel errors for common conditions.
var (
	// ErrJoinTimeout is returned by Stop when the capture loop does not exit in time.
	ErrJoinTimeout = errors.New("session: capture loop did not stop in time")

	// ErrStopped is returned by Start when the session was stopped during acquisition.
	ErrStopped = errors.New("session: stopped during acquisition")
)
