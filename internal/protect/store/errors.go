package store

import "errors"

var (
	// ErrCorrupt is returned when a stored snapshot cannot be decoded.
	ErrCorrupt = errors.New("store: corrupt snapshot")

	// ErrNoKey is returned when a store is created without an NVR key.
	ErrNoKey = errors.New("store: nvr key is required")
)
