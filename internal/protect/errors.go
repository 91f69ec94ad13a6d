package protect

import "errors"

// Domain errors for the protect package.
var (
	// ErrAlreadyStarted is returned by a second Connect.
	ErrAlreadyStarted = errors.New("protect: client already started")

	// ErrNotStarted is returned by WaitReady before Connect.
	ErrNotStarted = errors.New("protect: client not started")

	// ErrClosed is returned by WaitReady and Connect after Close.
	ErrClosed = errors.New("protect: client closed")
)
