package protect

import (
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/nvrapi"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/session"
)

// Defaults for Config fields left at zero.
const (
	DefaultDecodeErrorThreshold = 5
	DefaultBufferSize           = 1024
	DefaultStatsLimit           = 10000
	DefaultSaveTimeout          = 5 * time.Second
)

// ResyncConfig controls desync detection and recovery.
type ResyncConfig struct {
	// DecodeErrorThreshold is the number of consecutive undecodable
	// messages that force a resync.
	DecodeErrorThreshold int

	// DegradedThreshold is the number of consecutive failed loads after
	// which the link is reported degraded.
	DegradedThreshold int

	// BufferSize bounds how many mutations are held while a snapshot loads.
	BufferSize int

	// Backoff spaces retries after failed loads.
	Backoff session.BackoffConfig

	// LoadTimeout bounds one bootstrap load.
	LoadTimeout time.Duration
}

// Config holds client settings.
type Config struct {
	NVR     nvrapi.Config
	Session session.Config
	Resync  ResyncConfig

	// SubscriberBuffer is the per-subscriber notification buffer.
	SubscriberBuffer int

	// CaptureStats records per-message statistics (see WSStats).
	CaptureStats bool

	// StatsLimit caps how many per-message records are retained.
	StatsLimit int
}

func (c Config) withDefaults() Config {
	if c.Resync.DecodeErrorThreshold <= 0 {
		c.Resync.DecodeErrorThreshold = DefaultDecodeErrorThreshold
	}
	if c.Resync.BufferSize <= 0 {
		c.Resync.BufferSize = DefaultBufferSize
	}
	if c.StatsLimit <= 0 {
		c.StatsLimit = DefaultStatsLimit
	}
	return c
}
