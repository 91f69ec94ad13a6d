package session

import (
	"math/rand/v2"
	"time"
)

// Backoff defaults.
const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 2 * time.Minute
	DefaultMultiplier     = 1.5
	DefaultJitter         = 0.2
)

// BackoffConfig shapes a reconnect or retry schedule.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// Jitter is the +/- fraction applied to each delay, 0 to disable.
	Jitter float64
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = DefaultInitialBackoff
	}
	if c.Max <= 0 {
		c.Max = DefaultMaxBackoff
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier < 1 {
		c.Multiplier = DefaultMultiplier
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = DefaultJitter
	}
	return c
}

// Backoff produces exponentially growing delays capped at Max.
//
// Thread Safety:
//   - Not safe for concurrent use; each loop owns its own Backoff.
type Backoff struct {
	cfg      BackoffConfig
	current  time.Duration
	attempts int
	rand     func() float64
}

// NewBackoff creates a Backoff. Zero fields of cfg take the defaults.
func NewBackoff(cfg BackoffConfig) *Backoff {
	cfg = cfg.withDefaults()
	return &Backoff{cfg: cfg, current: cfg.Initial, rand: rand.Float64}
}

// Next returns the delay before the next attempt and grows the schedule.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.attempts++

	next := time.Duration(float64(b.current) * b.cfg.Multiplier)
	if next > b.cfg.Max {
		next = b.cfg.Max
	}
	b.current = next

	if b.cfg.Jitter > 0 {
		d = time.Duration(float64(d) * (1 + b.cfg.Jitter*(2*b.rand()-1)))
	}
	return d
}

// Reset returns the schedule to its initial delay.
func (b *Backoff) Reset() {
	b.current = b.cfg.Initial
	b.attempts = 0
}

// Attempts returns how many delays were handed out since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}
