package session

import "errors"

// Domain errors for the session package.
var (
	// ErrFatal is returned when the NVR keeps rejecting credentials after a
	// refresh. It wraps nvrapi.ErrAuth and is not retried.
	ErrFatal = errors.New("session: fatal authentication failure")

	// ErrIdle is reported in EventDown when no message arrived within the
	// idle timeout.
	ErrIdle = errors.New("session: link idle")
)
