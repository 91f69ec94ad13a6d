package entity

import "errors"

// Domain errors for the entity package.
var (
	// ErrNotFound is returned when an entity ID does not exist.
	ErrNotFound = errors.New("entity: not found")

	// ErrMalformed is returned when bootstrap JSON cannot be mapped onto
	// entities (missing ids, wrong shapes, missing revision).
	ErrMalformed = errors.New("entity: malformed document")

	// ErrIncomplete is returned when a snapshot references an entity that
	// is not part of the same snapshot.
	ErrIncomplete = errors.New("entity: referentially incomplete snapshot")

	// ErrUnknownModel is returned for model keys this client does not track.
	ErrUnknownModel = errors.New("entity: unknown model")

	// ErrUnknownOp is returned for mutation actions other than add, update, remove.
	ErrUnknownOp = errors.New("entity: unknown operation")
)
