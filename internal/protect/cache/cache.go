package cache

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
)

// DefaultSubscriberBuffer is the per-subscriber notification buffer size.
const DefaultSubscriberBuffer = 256

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger discards all log messages.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// View is the read side of the cache handed to consumers (API, relays).
type View interface {
	Snapshot() *entity.Snapshot
	Get(id string) (*entity.Entity, error)
	List(model entity.ModelType) []*entity.Entity
	Revision() entity.Revision
	Len() int
	Health() Health
	Subscribe() *Subscription
}

// Ensure Cache implements View.
var _ View = (*Cache)(nil)

// generation is one immutable, fully-applied state of the cache.
// Entities stored in a generation are never modified after it is published.
type generation struct {
	seq        uint64
	entities   map[string]*entity.Entity
	revision   entity.Revision
	authUserID string
	fetchedAt  time.Time
}

// Cache is the concurrent-safe entity graph.
//
// Thread Safety:
//   - Reads (Get, List, Snapshot, Revision, Health) never block the writer;
//     they load the latest published generation.
//   - Writes (Begin/Commit, Install, SetHealth) are expected from a single
//     writer goroutine. Commit is still safe if called concurrently, but the
//     last commit wins.
//
// Ordering:
//   - A notification is delivered only after the generation it describes is
//     visible to readers, so a Get issued after receiving a notification
//     observes that change or a later one.
type Cache struct {
	current atomic.Pointer[generation]
	health  atomic.Pointer[Health]

	subsMu  sync.Mutex
	subs    map[uint64]*Subscription
	nextSub uint64
	closed  bool

	bufSize int

	loggerMu sync.RWMutex
	logger   Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithSubscriberBuffer sets the per-subscriber channel size.
func WithSubscriberBuffer(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.bufSize = n
		}
	}
}

// New creates an empty cache in LinkConnecting state.
func New(opts ...Option) *Cache {
	c := &Cache{
		subs:    make(map[uint64]*Subscription),
		bufSize: DefaultSubscriberBuffer,
		logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.current.Store(&generation{entities: map[string]*entity.Entity{}})
	c.health.Store(&Health{State: LinkConnecting, Since: time.Now()})
	return c
}

// SetLogger sets the logger for this cache.
func (c *Cache) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Cache) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Get returns a copy of one entity.
//
// Returns:
//   - *entity.Entity: deep copy safe to modify
//   - error: entity.ErrNotFound if the id is absent
func (c *Cache) Get(id string) (*entity.Entity, error) {
	e, ok := c.current.Load().entities[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return e.DeepCopy(), nil
}

// List returns copies of every entity of a model, sorted by id. An empty
// model lists everything.
func (c *Cache) List(model entity.ModelType) []*entity.Entity {
	gen := c.current.Load()
	out := make([]*entity.Entity, 0)
	for _, id := range slices.Sorted(maps.Keys(gen.entities)) {
		e := gen.entities[id]
		if model == "" || e.Model == model {
			out = append(out, e.DeepCopy())
		}
	}
	return out
}

// Snapshot returns a deep copy of the whole graph at one generation.
func (c *Cache) Snapshot() *entity.Snapshot {
	gen := c.current.Load()
	snap := &entity.Snapshot{
		Entities:   make(map[string]*entity.Entity, len(gen.entities)),
		Revision:   gen.revision,
		AuthUserID: gen.authUserID,
		FetchedAt:  gen.fetchedAt,
	}
	for id, e := range gen.entities {
		snap.Entities[id] = e.DeepCopy()
	}
	return snap
}

// Revision returns the revision of the latest generation.
func (c *Cache) Revision() entity.Revision {
	return c.current.Load().revision
}

// Generation returns the sequence number of the latest generation.
func (c *Cache) Generation() uint64 {
	return c.current.Load().seq
}

// Len returns the number of entities in the latest generation.
func (c *Cache) Len() int {
	return len(c.current.Load().entities)
}

// Install replaces the whole graph with a snapshot in one step and publishes
// a reset notification. The cache takes ownership of snap.
func (c *Cache) Install(snap *entity.Snapshot) {
	prev := c.current.Load()
	gen := &generation{
		seq:        prev.seq + 1,
		entities:   make(map[string]*entity.Entity, len(snap.Entities)),
		revision:   snap.Revision,
		authUserID: snap.AuthUserID,
		fetchedAt:  snap.FetchedAt,
	}
	for id, e := range snap.Entities {
		e.Modified = gen.seq
		gen.entities[id] = e
	}
	c.current.Store(gen)

	c.log().Info("entity cache installed",
		"entities", len(gen.entities),
		"revision", gen.revision.UpdateID,
		"generation", gen.seq,
	)

	c.publish(Notification{
		Kind:       KindReset,
		Revision:   gen.revision,
		Generation: gen.seq,
		Count:      len(gen.entities),
	})
}

// Health returns the current link health.
func (c *Cache) Health() Health {
	return *c.health.Load()
}

// SetHealth records link health and publishes a state notification when it
// differs from the current health. Since is kept from the earlier value when
// nothing changed.
func (c *Cache) SetHealth(h Health) {
	if h.Since.IsZero() {
		h.Since = time.Now()
	}
	if prev := c.health.Load(); prev != nil && prev.sameAs(h) {
		return
	}
	c.health.Store(&h)
	c.publish(Notification{
		Kind:       KindState,
		Health:     &h,
		Revision:   c.Revision(),
		Generation: c.Generation(),
	})
}

// Close closes every subscription. Data is kept so the last-known-good state
// can still be read.
func (c *Cache) Close() {
	c.SetHealth(Health{State: LinkClosed})

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
}
