package bootstrap

import "errors"

// ErrBootstrap wraps every Load failure. The underlying cause is also
// matchable: nvrapi.ErrTransport, nvrapi.ErrAuth, session.ErrFatal,
// wire.ErrDecode or entity.ErrIncomplete.
var ErrBootstrap = errors.New("bootstrap: load failed")
