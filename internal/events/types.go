package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeSessionConnected uint32 = iota + 1
	TypeSessionDisconnected
	TypeResyncStarted
	TypeResyncFailed
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionConnected is published when a live snapshot has been installed and
// the cache tracks the NVR again.
type SessionConnected struct {
	Revision  string    `json:"revision"`
	Entities  int       `json:"entities"`
	Timestamp time.Time `json:"timestamp"`
}

// Type returns the event type identifier for SessionConnected.
func (e SessionConnected) Type() uint32 { return TypeSessionConnected }

// SessionDisconnected is published when the cache stops being live.
type SessionDisconnected struct {
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Type returns the event type identifier for SessionDisconnected.
func (e SessionDisconnected) Type() uint32 { return TypeSessionDisconnected }

// ResyncStarted is published when a snapshot load begins.
type ResyncStarted struct {
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Type returns the event type identifier for ResyncStarted.
func (e ResyncStarted) Type() uint32 { return TypeResyncStarted }

// ResyncFailed is published for every failed snapshot load.
type ResyncFailed struct {
	Error     string        `json:"error"`
	Failures  int           `json:"failures"`
	Degraded  bool          `json:"degraded"`
	RetryIn   time.Duration `json:"retry_in"`
	Timestamp time.Time     `json:"timestamp"`
}

// Type returns the event type identifier for ResyncFailed.
func (e ResyncFailed) Type() uint32 { return TypeResyncFailed }
