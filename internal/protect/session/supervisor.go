package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Supervisor defaults.
const (
	DefaultIdleTimeout  = 30 * time.Second
	DefaultHealthyAfter = time.Minute
	DefaultEventBuffer  = 256
)

// Conn is an open update channel. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// DialFunc opens an update channel resuming after lastUpdateID.
type DialFunc func(ctx context.Context, lastUpdateID string) (Conn, error)

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

// EventKind identifies a supervisor event.
type EventKind int

// Event kinds.
const (
	// EventUp opens a new link epoch.
	EventUp EventKind = iota + 1

	// EventFrame carries one inbound message.
	EventFrame

	// EventDown closes the current epoch. Err says why.
	EventDown

	// EventFatal means the supervisor stopped for good. Err wraps ErrFatal.
	EventFatal
)

func (k EventKind) String() string {
	switch k {
	case EventUp:
		return "up"
	case EventFrame:
		return "frame"
	case EventDown:
		return "down"
	case EventFatal:
		return "fatal"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one entry on the supervisor's channel.
type Event struct {
	Kind  EventKind
	Epoch uint64

	// LinkID identifies the link for logs.
	LinkID string

	Data []byte
	Err  error
	At   time.Time
}

// Config holds supervisor settings.
type Config struct {
	// IdleTimeout is the longest gap between inbound messages before the
	// link is considered dead.
	IdleTimeout time.Duration

	// HealthyAfter is how long a link must stay up for the reconnect
	// backoff to start over.
	HealthyAfter time.Duration

	Backoff BackoffConfig

	// EventBuffer is the capacity of the events channel.
	EventBuffer int
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.HealthyAfter <= 0 {
		c.HealthyAfter = DefaultHealthyAfter
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	c.Backoff = c.Backoff.withDefaults()
	return c
}

// Stats holds supervisor counters.
type Stats struct {
	Connects    uint64
	Disconnects uint64
	DialErrors  uint64
	Frames      uint64
	Epoch       uint64
}

// Supervisor owns the update channel's connect/read/reconnect loop.
//
// Thread Safety:
//   - Start may be called once.
//   - Events is read by one consumer.
//   - Stats and SetLogger are safe for concurrent use.
type Supervisor struct {
	cfg    Config
	dial   DialFunc
	auth   Authenticator
	cursor func() string

	events  chan Event
	started atomic.Bool
	wg      sync.WaitGroup

	epoch       atomic.Uint64
	connects    atomic.Uint64
	disconnects atomic.Uint64
	dialErrors  atomic.Uint64
	frames      atomic.Uint64

	loggerMu sync.RWMutex
	logger   Logger
}

// New creates a Supervisor.
//
// Parameters:
//   - cfg: timeouts and backoff; zero fields take defaults
//   - dial: opens one update channel
//   - auth: refreshes credentials on ErrAuth; may be nil
//   - cursor: returns the revision to resume after on each dial; may be nil
func New(cfg Config, dial DialFunc, auth Authenticator, cursor func() string) *Supervisor {
	cfg = cfg.withDefaults()
	if cursor == nil {
		cursor = func() string { return "" }
	}
	return &Supervisor{
		cfg:    cfg,
		dial:   dial,
		auth:   auth,
		cursor: cursor,
		events: make(chan Event, cfg.EventBuffer),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for this supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Supervisor) log() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Events returns the ordered event channel. It is closed when the
// supervisor stops.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Stats returns supervisor counters.
func (s *Supervisor) Stats() Stats {
	return Stats{
		Connects:    s.connects.Load(),
		Disconnects: s.disconnects.Load(),
		DialErrors:  s.dialErrors.Load(),
		Frames:      s.frames.Load(),
		Epoch:       s.epoch.Load(),
	}
}

// Start dials the first link synchronously and then supervises it in the
// background until ctx is cancelled.
//
// Returns:
//   - error: ErrFatal when credentials are rejected after a refresh,
//     otherwise the dial error; the events channel is closed on error
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session: already started")
	}

	conn, err := s.connect(ctx)
	if err != nil {
		close(s.events)
		return err
	}

	s.wg.Add(1)
	go s.run(ctx, conn)
	return nil
}

// Wait blocks until the background loop exits.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// connect dials once, refreshing credentials at most once.
func (s *Supervisor) connect(ctx context.Context) (Conn, error) {
	conn, err := WithAuthRefresh(ctx, s.auth, func(ctx context.Context) (Conn, error) {
		return s.dial(ctx, s.cursor())
	})
	if err != nil {
		s.dialErrors.Add(1)
		return nil, err
	}
	return conn, nil
}

func (s *Supervisor) run(ctx context.Context, conn Conn) {
	defer s.wg.Done()
	defer close(s.events)

	backoff := NewBackoff(s.cfg.Backoff)

	for {
		epoch := s.epoch.Add(1)
		linkID := uuid.NewString()
		upAt := time.Now()
		s.connects.Add(1)
		s.log().Info("update channel connected", "link", linkID, "epoch", epoch)

		if !s.emit(ctx, Event{Kind: EventUp, Epoch: epoch, LinkID: linkID, At: upAt}) {
			conn.Close() //nolint:errcheck,gosec // shutting down
			return
		}

		err := s.readLoop(ctx, conn, epoch, linkID)
		conn.Close() //nolint:errcheck,gosec // link is finished
		if ctx.Err() != nil {
			return
		}

		s.disconnects.Add(1)
		uptime := time.Since(upAt)
		s.log().Warn("update channel lost", "link", linkID, "epoch", epoch, "uptime", uptime.String(), "error", err)
		if !s.emit(ctx, Event{Kind: EventDown, Epoch: epoch, LinkID: linkID, Err: err, At: time.Now()}) {
			return
		}

		if uptime >= s.cfg.HealthyAfter {
			backoff.Reset()
		}

		conn = s.reconnect(ctx, backoff)
		if conn == nil {
			return
		}
	}
}

// reconnect dials until it succeeds. It returns nil on shutdown or after
// emitting EventFatal.
func (s *Supervisor) reconnect(ctx context.Context, backoff *Backoff) Conn {
	for {
		wait := backoff.Next()
		s.log().Info("reconnecting", "attempt", backoff.Attempts(), "backoff", wait.String())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		conn, err := s.connect(ctx)
		if err == nil {
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrFatal) {
			s.log().Error("giving up on update channel", "error", err)
			s.emit(ctx, Event{Kind: EventFatal, Epoch: s.epoch.Load(), Err: err, At: time.Now()})
			return nil
		}
		s.log().Warn("reconnect failed", "attempt", backoff.Attempts(), "error", err)
	}
}

// readLoop forwards messages until the link fails or ctx is cancelled.
func (s *Supervisor) readLoop(ctx context.Context, conn Conn, epoch uint64, linkID string) error {
	stop := context.AfterFunc(ctx, func() {
		conn.Close() //nolint:errcheck,gosec // unblocks ReadMessage
	})
	defer stop()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fmt.Errorf("%w: nothing received for %v", ErrIdle, s.cfg.IdleTimeout)
			}
			return err
		}

		s.frames.Add(1)
		if !s.emit(ctx, Event{Kind: EventFrame, Epoch: epoch, LinkID: linkID, Data: data, At: time.Now()}) {
			return ctx.Err()
		}
	}
}

// emit delivers ev unless ctx is cancelled first.
func (s *Supervisor) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
