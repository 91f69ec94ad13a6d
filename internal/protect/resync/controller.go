package resync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/session"
)

var errNoSnapshot = errors.New("resync: load returned no snapshot")

// DefaultDegradedThreshold is the number of consecutive failed loads after
// which the link is reported degraded.
const DefaultDegradedThreshold = 3

// State is the controller's view of cache freshness.
type State int

// Controller states.
const (
	// StateDesynced means the cache no longer tracks the NVR and no load is
	// in flight.
	StateDesynced State = iota

	// StateResyncing means a bootstrap load is in flight.
	StateResyncing

	// StateConnected means mutations are being applied live.
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDesynced:
		return "desynced"
	case StateResyncing:
		return "resyncing"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Loader produces snapshots. *bootstrap.Loader satisfies it.
type Loader interface {
	Load(ctx context.Context) (*entity.Snapshot, error)
}

// Result is the outcome of one load attempt.
type Result struct {
	Attempt  uint64
	Snapshot *entity.Snapshot
	Err      error
}

// Transition describes a state change.
type Transition struct {
	From   State
	To     State
	Reason string

	// LinkUp reports whether the update channel was open.
	LinkUp bool

	// Failures is the number of consecutive failed loads.
	Failures int

	// Degraded is set once Failures reaches the threshold.
	Degraded bool

	// Err is the load error for a failed attempt.
	Err error

	// RetryIn is the delay before the next load, when one is scheduled.
	RetryIn time.Duration
}

// Config holds controller settings.
type Config struct {
	// Backoff spaces retries after failed loads.
	Backoff session.BackoffConfig

	// DegradedThreshold is the failure count that marks the link degraded.
	DegradedThreshold int

	// LoadTimeout bounds one load; zero means no bound beyond the context.
	LoadTimeout time.Duration
}

// Stats holds controller counters.
type Stats struct {
	State    State
	Failures int
	Loads    uint64
	Resyncs  uint64
	Desyncs  uint64
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Controller drives resynchronisation.
type Controller struct {
	cfg    Config
	loader Loader
	logger Logger

	state    State
	linkUp   bool
	attempt  uint64
	failures int
	fatal    error

	backoff    *session.Backoff
	retry      *time.Timer
	retryC     <-chan time.Time
	cancelLoad context.CancelFunc

	results      chan Result
	onTransition func(Transition)
	wg           sync.WaitGroup

	stateSnap atomic.Int32
	failSnap  atomic.Int32
	loads     atomic.Uint64
	resyncs   atomic.Uint64
	desyncs   atomic.Uint64
}

// New creates a Controller in StateDesynced with the link down.
func New(cfg Config, loader Loader) *Controller {
	if cfg.DegradedThreshold <= 0 {
		cfg.DegradedThreshold = DefaultDegradedThreshold
	}
	return &Controller{
		cfg:     cfg,
		loader:  loader,
		logger:  noopLogger{},
		state:   StateDesynced,
		backoff: session.NewBackoff(cfg.Backoff),
		results: make(chan Result, 4),
	}
}

// SetLogger sets the logger. Call before use.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// OnTransition registers fn to run on every state change, on the calling
// goroutine. Call before use.
func (c *Controller) OnTransition(fn func(Transition)) {
	c.onTransition = fn
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Failures returns the number of consecutive failed loads.
func (c *Controller) Failures() int {
	return c.failures
}

// Degraded reports whether the failure threshold has been reached.
func (c *Controller) Degraded() bool {
	return c.failures >= c.cfg.DegradedThreshold
}

// Fatal returns the load error that ended resynchronisation, or nil. Once
// set, no further loads are started.
func (c *Controller) Fatal() error {
	return c.fatal
}

// LinkIsUp reports whether the update channel is open.
func (c *Controller) LinkIsUp() bool {
	return c.linkUp
}

// Results delivers load outcomes; pass each to Complete.
func (c *Controller) Results() <-chan Result {
	return c.results
}

// RetryC fires when a retry is due; call OnRetry. It is nil when no retry is
// scheduled.
func (c *Controller) RetryC() <-chan time.Time {
	return c.retryC
}

// Stats returns controller counters. Safe for concurrent use.
func (c *Controller) Stats() Stats {
	return Stats{
		State:    State(c.stateSnap.Load()),
		Failures: int(c.failSnap.Load()),
		Loads:    c.loads.Load(),
		Resyncs:  c.resyncs.Load(),
		Desyncs:  c.desyncs.Load(),
	}
}

// LinkUp records that the update channel opened and starts a load unless
// the cache is already live.
func (c *Controller) LinkUp(ctx context.Context) {
	c.linkUp = true
	if c.state == StateConnected || c.fatal != nil {
		return
	}
	c.startLoad(ctx, "link up")
}

// LinkDown records that the update channel closed. Any load in flight is
// abandoned.
func (c *Controller) LinkDown(reason string) {
	c.linkUp = false
	c.abandonLoad()
	c.stopRetry()
	if c.state == StateConnected {
		c.desyncs.Add(1)
	}
	c.transition(StateDesynced, reason, nil, 0)
}

// Desync reports that the cache diverged from the NVR. It only acts while
// Connected; requests during a pending resync are absorbed by it.
//
// Returns true if this call started a resync.
func (c *Controller) Desync(ctx context.Context, reason string) bool {
	if c.state != StateConnected {
		c.logger.Debug("desync absorbed", "state", c.state.String(), "reason", reason)
		return false
	}
	c.desyncs.Add(1)
	c.logger.Warn("cache desynced", "reason", reason)
	c.transition(StateDesynced, reason, nil, 0)
	if c.linkUp {
		c.startLoad(ctx, reason)
	}
	return true
}

// Complete consumes a load result.
//
// Returns:
//   - *entity.Snapshot: the snapshot to install, or nil when the result was
//     stale or the load failed
func (c *Controller) Complete(res Result) *entity.Snapshot {
	if res.Attempt != c.attempt || c.state != StateResyncing {
		c.logger.Debug("stale load result ignored", "attempt", res.Attempt, "current", c.attempt)
		return nil
	}
	c.cancelLoad = nil

	if res.Err != nil || res.Snapshot == nil {
		err := res.Err
		if err == nil {
			err = errNoSnapshot
		}
		c.failures++
		if errors.Is(err, session.ErrFatal) {
			c.fatal = err
			c.stopRetry()
			c.logger.Error("resync stopped: credentials rejected", "attempt", res.Attempt, "error", err)
			c.transition(StateDesynced, "credentials rejected", err, 0)
			return nil
		}
		wait := c.backoff.Next()
		c.scheduleRetry(wait)
		c.logger.Warn("resync failed", "attempt", res.Attempt, "failures", c.failures, "retry_in", wait.String(), "error", err)
		c.transition(StateDesynced, "load failed", err, wait)
		return nil
	}

	c.failures = 0
	c.backoff.Reset()
	c.resyncs.Add(1)
	c.transition(StateConnected, "snapshot loaded", nil, 0)
	return res.Snapshot
}

// OnRetry starts the scheduled retry if it is still wanted.
func (c *Controller) OnRetry(ctx context.Context) {
	c.retryC = nil
	c.retry = nil
	if !c.linkUp || c.state != StateDesynced || c.fatal != nil {
		return
	}
	c.startLoad(ctx, "retry")
}

// Close abandons any load in flight and waits for its goroutine.
func (c *Controller) Close() {
	c.abandonLoad()
	c.stopRetry()
	c.wg.Wait()
}

func (c *Controller) startLoad(ctx context.Context, reason string) {
	c.stopRetry()
	c.abandonLoad()

	c.attempt++
	attempt := c.attempt

	var lctx context.Context
	var cancel context.CancelFunc
	if c.cfg.LoadTimeout > 0 {
		lctx, cancel = context.WithTimeout(ctx, c.cfg.LoadTimeout)
	} else {
		lctx, cancel = context.WithCancel(ctx)
	}
	c.cancelLoad = cancel
	c.loads.Add(1)
	c.transition(StateResyncing, reason, nil, 0)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		snap, err := c.loader.Load(lctx)
		select {
		case c.results <- Result{Attempt: attempt, Snapshot: snap, Err: err}:
		case <-ctx.Done():
		}
	}()
}

func (c *Controller) abandonLoad() {
	if c.cancelLoad == nil {
		return
	}
	c.cancelLoad()
	c.cancelLoad = nil
	c.attempt++
}

func (c *Controller) scheduleRetry(wait time.Duration) {
	c.stopRetry()
	c.retry = time.NewTimer(wait)
	c.retryC = c.retry.C
}

func (c *Controller) stopRetry() {
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = nil
	c.retryC = nil
}

func (c *Controller) transition(to State, reason string, err error, retryIn time.Duration) {
	from := c.state
	c.state = to
	c.stateSnap.Store(int32(to))
	c.failSnap.Store(int32(c.failures))

	if from == to && err == nil {
		return
	}
	if c.onTransition != nil {
		c.onTransition(Transition{
			From:     from,
			To:       to,
			Reason:   reason,
			LinkUp:   c.linkUp,
			Failures: c.failures,
			Degraded: c.Degraded(),
			Err:      err,
			RetryIn:  retryIn,
		})
	}
}
