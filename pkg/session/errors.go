package session

import "errors"

var (
	// ErrInput is returned for empty or unusable source text
	ErrInput = errors.New("no source code provided")
	// ErrProcessSpawn is returned when the debugger could not be started or set up
	ErrProcessSpawn = errors.New("failed to start debugger")
	// ErrSessionNotFound is returned for operations on an unknown or expired session id
	ErrSessionNotFound = errors.New("session not available")
	// ErrNoActiveSession is returned by stop when there is nothing left to stop
	ErrNoActiveSession = errors.New("no active session")
	// ErrInvalidTransition is returned for an operation the current state does not allow
	ErrInvalidTransition = errors.New("invalid session transition")
)
