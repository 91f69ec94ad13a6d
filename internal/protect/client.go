package protect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/bootstrap"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/nvrapi"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/reconcile"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/resync"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/session"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/wire"
)

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

// SnapshotStore persists the last installed snapshot for warm starts.
type SnapshotStore interface {
	// Load returns the stored snapshot, or nil when there is none.
	Load(ctx context.Context) (*entity.Snapshot, error)
	Save(ctx context.Context, snap *entity.Snapshot) error
}

// linkSource is the inbound event stream. *session.Supervisor satisfies it.
type linkSource interface {
	Start(ctx context.Context) error
	Events() <-chan session.Event
	Wait()
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for the client and its components.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithStore enables warm start from, and persistence to, store.
func WithStore(store SnapshotStore) Option {
	return func(c *Client) {
		c.store = store
	}
}

// WithObserver adds a pipeline observer.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observers = append(c.observers, o)
	}
}

// Stats holds client counters.
type Stats struct {
	Frames       uint64
	DecodeErrors uint64
	Controls     uint64
	Buffered     uint64
	Dropped      uint64
	Overflowed   uint64

	Reconciler reconcile.Stats
	Resync     resync.Stats
	Session    session.Stats
	Bootstrap  bootstrap.Stats

	Health   cache.Health
	Revision entity.Revision
	Entities int
}

// Client maintains the live entity cache for one NVR.
//
// Thread Safety:
//   - Connect, WaitReady, Close, View, Stats and WSStats are safe for
//     concurrent use.
//   - Everything else runs on the internal writer goroutine.
type Client struct {
	cfg    Config
	logger Logger

	// mu orders Connect against Close.
	mu sync.Mutex

	src        linkSource
	supervisor *session.Supervisor
	loader     *bootstrap.Loader
	decoder    *wire.Decoder
	cache      *cache.Cache
	reconciler *reconcile.Reconciler
	ctrl       *resync.Controller
	store      SnapshotStore
	observers  observers
	wsStats    *WSStats

	started   atomic.Bool
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}
	ready     chan struct{}
	resyncReq chan string
	readyOnce sync.Once
	closeOnce sync.Once
	fatal     atomic.Pointer[error]
	installed atomic.Bool

	// Writer goroutine state.
	epoch      uint64
	seq        uint64
	buffer     []*entity.Mutation
	decodeRuns int

	frames       atomic.Uint64
	decodeErrors atomic.Uint64
	controls     atomic.Uint64
	buffered     atomic.Uint64
	dropped      atomic.Uint64
	overflowed   atomic.Uint64
}

// New creates a Client for the NVR described by cfg. It does not contact the
// NVR; call Connect.
func New(cfg Config, opts ...Option) (*Client, error) {
	api, err := nvrapi.New(cfg.NVR)
	if err != nil {
		return nil, err
	}

	c := newClient(cfg, nil, bootstrap.New(api, api), opts...)
	c.supervisor = session.New(cfg.Session, func(ctx context.Context, id string) (session.Conn, error) {
		conn, err := api.DialUpdates(ctx, id)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}, api, c.cursor)
	c.supervisor.SetLogger(c.logger)
	c.src = c.supervisor
	return c, nil
}

// newClient wires a client around an arbitrary link source and loader.
func newClient(cfg Config, src linkSource, loader resync.Loader, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:       cfg,
		logger:    noopLogger{},
		src:       src,
		decoder:   wire.NewDecoder(),
		cache:     cache.New(cache.WithSubscriberBuffer(cfg.SubscriberBuffer)),
		wsStats:   NewWSStats(cfg.StatsLimit, cfg.CaptureStats),
		done:      make(chan struct{}),
		ready:     make(chan struct{}),
		resyncReq: make(chan string, 1),
	}
	for _, opt := range opts {
		opt(c)
	}

	if l, ok := loader.(*bootstrap.Loader); ok {
		c.loader = l
		l.SetLogger(c.logger)
	}
	c.cache.SetLogger(c.logger)
	c.reconciler = reconcile.New(c.cache)
	c.reconciler.SetLogger(c.logger)
	c.ctrl = resync.New(resync.Config{
		Backoff:           cfg.Resync.Backoff,
		DegradedThreshold: cfg.Resync.DegradedThreshold,
		LoadTimeout:       cfg.Resync.LoadTimeout,
	}, loader)
	c.ctrl.SetLogger(c.logger)
	c.ctrl.OnTransition(c.onTransition)
	return c
}

// cursor is the resume point offered on each dial.
func (c *Client) cursor() string {
	return c.cache.Revision().UpdateID
}

// View returns the read side of the entity cache.
func (c *Client) View() cache.View {
	return c.cache
}

// WSStats returns the per-message statistics recorder.
func (c *Client) WSStats() *WSStats {
	return c.wsStats
}

// Connect warm-starts the cache from the store, opens the update channel and
// starts the writer goroutine. The first snapshot loads in the background;
// use WaitReady to block until it is installed.
//
// ctx bounds the lifetime of the background work as well as Close does.
//
// Returns:
//   - error: ErrAlreadyStarted, ErrClosed after Close, or the first dial's
//     error: session.ErrFatal
//     (matching nvrapi.ErrAuth) for rejected credentials, nvrapi.ErrTransport
//     when the NVR is unreachable
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.started.Load() {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started.Store(true)

	c.warmStart(ctx)

	if err := c.src.Start(runCtx); err != nil {
		cancel()
		c.fail(err)
		close(c.done)
		return err
	}

	go c.run(runCtx)
	return nil
}

func (c *Client) warmStart(ctx context.Context) {
	if c.store == nil {
		return
	}
	snap, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("warm start skipped", "error", err)
		return
	}
	if snap == nil {
		return
	}
	c.cache.Install(snap)
	c.setHealth(cache.Health{State: cache.LinkConnecting, Stale: true})
	c.logger.Info("warm start from stored snapshot",
		"entities", len(snap.Entities),
		"revision", snap.Revision.UpdateID,
		"fetched_at", snap.FetchedAt,
	)
}

// WaitReady blocks until the first live snapshot is installed.
//
// Returns:
//   - error: the fatal error if the client gave up, ErrClosed after Close,
//     ErrNotStarted before Connect, or ctx.Err()
func (c *Client) WaitReady(ctx context.Context) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	select {
	case <-c.ready:
		return nil
	default:
	}
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		select {
		case <-c.ready:
			return nil
		default:
		}
		if err := c.fatal.Load(); err != nil {
			return *err
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the client. The cache keeps its last-known-good state and is
// persisted to the store if one is configured. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.closed = true
		if c.started.Load() {
			c.cancel()
			<-c.done
			if c.src != nil {
				c.src.Wait()
			}
		}
		c.ctrl.Close()
		err = c.save(context.Background())
		c.cache.Close()
		c.observers.HealthChanged(c.cache.Health())
		c.logger.Info("protect client closed")
	})
	return err
}

func (c *Client) save(ctx context.Context) error {
	if c.store == nil || !c.installed.Load() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultSaveTimeout)
	defer cancel()
	if err := c.store.Save(ctx, c.cache.Snapshot()); err != nil {
		c.logger.Warn("snapshot save failed", "error", err)
		return err
	}
	return nil
}

// RequestResync asks the writer goroutine to discard the live cursor and
// reload the snapshot. A request made while one is already pending, or while
// a resync is in progress, is absorbed.
//
// Returns:
//   - error: ErrNotStarted before Connect, ErrClosed after Close
func (c *Client) RequestResync(reason string) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if reason == "" {
		reason = "requested"
	}
	select {
	case c.resyncReq <- reason:
	default:
	}
	return nil
}

// Stats returns client counters.
func (c *Client) Stats() Stats {
	st := Stats{
		Frames:       c.frames.Load(),
		DecodeErrors: c.decodeErrors.Load(),
		Controls:     c.controls.Load(),
		Buffered:     c.buffered.Load(),
		Dropped:      c.dropped.Load(),
		Overflowed:   c.overflowed.Load(),
		Reconciler:   c.reconciler.Stats(),
		Resync:       c.ctrl.Stats(),
		Health:       c.cache.Health(),
		Revision:     c.cache.Revision(),
		Entities:     c.cache.Len(),
	}
	if c.supervisor != nil {
		st.Session = c.supervisor.Stats()
	}
	if c.loader != nil {
		st.Bootstrap = c.loader.Stats()
	}
	return st
}

func (c *Client) fail(err error) {
	c.fatal.Store(&err)
	h := cache.Health{
		State:     cache.LinkDegraded,
		Stale:     true,
		LastError: err.Error(),
	}
	if errors.Is(err, session.ErrFatal) {
		c.logger.Error("nvr rejected credentials", "error", err)
	}
	c.setHealth(h)
}

func (c *Client) setHealth(h cache.Health) {
	if h.Since.IsZero() {
		h.Since = time.Now()
	}
	prev := c.cache.Health()
	c.cache.SetHealth(h)
	if cur := c.cache.Health(); cur != prev {
		c.observers.HealthChanged(cur)
	}
}

func (c *Client) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}
