package nvrapi

import "errors"

// Domain errors for the nvrapi package.
var (
	// ErrAuth is returned when the NVR rejects the credentials (HTTP 401 or
	// 403) or when the cached session token has expired.
	ErrAuth = errors.New("nvrapi: authentication failed")

	// ErrTransport is returned for network failures and unexpected
	// responses.
	ErrTransport = errors.New("nvrapi: transport failure")

	// ErrInvalidConfig is returned by New for unusable settings.
	ErrInvalidConfig = errors.New("nvrapi: invalid config")
)
