package session

import "errors"

var (
	// ErrNotRunning is returned by operations that need a started session.
	ErrNotRunning = errors.New("session is not running")
	// ErrAlreadyRunning is returned when Start is called twice. Sessions are
	// single-use.
	ErrAlreadyRunning = errors.New("session already started")
	// ErrInvalidMagnet wraps magnet parse failures.
	ErrInvalidMagnet = errors.New("invalid magnet reference")
)
