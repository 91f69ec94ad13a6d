package cache

import "time"

// LinkState is the consumer-visible condition of the NVR link.
type LinkState string

// Link states.
const (
	// LinkConnecting is the initial state before the first snapshot.
	LinkConnecting LinkState = "connecting"

	// LinkConnected means the cache is live and mutations are being applied.
	LinkConnected LinkState = "connected"

	// LinkReconnecting means the push channel dropped and is being re-opened.
	LinkReconnecting LinkState = "reconnecting"

	// LinkResyncing means a fresh snapshot is being fetched.
	LinkResyncing LinkState = "resyncing"

	// LinkDegraded means repeated resync or authentication failures; data
	// is the last-known-good state and may be stale.
	LinkDegraded LinkState = "degraded"

	// LinkClosed means the client was shut down.
	LinkClosed LinkState = "closed"
)

// Health describes how far the cache can be trusted.
type Health struct {
	State LinkState `json:"state"`

	// Stale is set while serving data that was not confirmed by a live
	// bootstrap on the current link (warm start, resync in progress).
	Stale bool `json:"stale"`

	// Failures is the number of consecutive resync failures.
	Failures int `json:"failures,omitempty"`

	// LastError is the most recent error that affected the link.
	LastError string `json:"last_error,omitempty"`

	Since time.Time `json:"since"`
}

// Degraded reports whether consumers should treat the data as possibly stale.
func (h Health) Degraded() bool {
	return h.State != LinkConnected || h.Stale
}

func (h *Health) sameAs(o Health) bool {
	return h.State == o.State && h.Stale == o.Stale && h.Failures == o.Failures && h.LastError == o.LastError
}
