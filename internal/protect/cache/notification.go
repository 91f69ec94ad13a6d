package cache

import "github.com/nerrad567/gray-logic-nvr/internal/protect/entity"

// Kind identifies what a Notification describes.
type Kind string

// Notification kinds.
const (
	// KindMutation is one applied entity change.
	KindMutation Kind = "mutation"

	// KindReset means the whole graph was replaced by a snapshot.
	KindReset Kind = "reset"

	// KindState is a link health change.
	KindState Kind = "state"
)

// Notification is delivered to subscribers after the change it describes is
// visible to readers.
type Notification struct {
	Kind Kind `json:"kind"`

	// Mutation fields.
	ID      string           `json:"id,omitempty"`
	Model   entity.ModelType `json:"model,omitempty"`
	Op      entity.Op        `json:"op,omitempty"`
	Changed map[string]any   `json:"changed,omitempty"`

	// Reset fields.
	Count int `json:"count,omitempty"`

	// State fields.
	Health *Health `json:"health,omitempty"`

	Revision   entity.Revision `json:"revision"`
	Generation uint64          `json:"generation"`

	// Dropped is the number of notifications this subscriber missed
	// immediately before this one because its buffer was full.
	Dropped uint64 `json:"dropped,omitempty"`
}
