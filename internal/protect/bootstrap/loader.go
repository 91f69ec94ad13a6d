package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/session"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/wire"
)

// Fetcher performs the bootstrap request. *nvrapi.Client satisfies it.
type Fetcher interface {
	FetchBootstrap(ctx context.Context) ([]byte, error)
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

// Stats holds loader counters.
type Stats struct {
	Loads    uint64
	Failures uint64

	// LastDuration is the wall time of the most recent successful load.
	LastDuration time.Duration

	// LastSize is the body size of the most recent successful load.
	LastSize int
}

// Loader fetches and validates bootstrap snapshots.
//
// Thread Safety:
//   - Load is safe for concurrent use, though callers normally keep at most
//     one load in flight.
type Loader struct {
	fetcher Fetcher
	auth    session.Authenticator
	now     func() time.Time

	loads    atomic.Uint64
	failures atomic.Uint64
	lastDur  atomic.Int64
	lastSize atomic.Int64

	loggerMu sync.RWMutex
	logger   Logger
}

// New creates a Loader. auth may be nil to disable the credential refresh.
func New(fetcher Fetcher, auth session.Authenticator) *Loader {
	return &Loader{
		fetcher: fetcher,
		auth:    auth,
		now:     time.Now,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for this loader.
func (l *Loader) SetLogger(logger Logger) {
	l.loggerMu.Lock()
	l.logger = logger
	l.loggerMu.Unlock()
}

func (l *Loader) log() Logger {
	l.loggerMu.RLock()
	defer l.loggerMu.RUnlock()
	return l.logger
}

// Stats returns loader counters.
func (l *Loader) Stats() Stats {
	return Stats{
		Loads:        l.loads.Load(),
		Failures:     l.failures.Load(),
		LastDuration: time.Duration(l.lastDur.Load()),
		LastSize:     int(l.lastSize.Load()),
	}
}

// Load performs one bootstrap exchange.
//
// Returns:
//   - *entity.Snapshot: validated snapshot whose Revision.UpdateID is the
//     document's lastUpdateId
//   - error: ErrBootstrap wrapping the cause
func (l *Loader) Load(ctx context.Context) (*entity.Snapshot, error) {
	start := l.now()
	snap, size, err := l.load(ctx)
	if err != nil {
		l.failures.Add(1)
		l.log().Warn("bootstrap failed", "error", err)
		return nil, err
	}

	dur := l.now().Sub(start)
	l.loads.Add(1)
	l.lastDur.Store(int64(dur))
	l.lastSize.Store(int64(size))
	l.log().Info("bootstrap loaded",
		"update_id", snap.Revision.UpdateID,
		"entities", len(snap.Entities),
		"bytes", size,
		"duration", dur.String(),
	)
	return snap, nil
}

func (l *Loader) load(ctx context.Context) (*entity.Snapshot, int, error) {
	raw, err := session.WithAuthRefresh(ctx, l.auth, l.fetcher.FetchBootstrap)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrBootstrap, err)
	}

	snap, err := entity.ParseBootstrap(raw, l.now())
	if err != nil {
		return nil, len(raw), fmt.Errorf("%w: %w: %w", ErrBootstrap, wire.ErrDecode, err)
	}
	if err := snap.Validate(); err != nil {
		return nil, len(raw), fmt.Errorf("%w: %w", ErrBootstrap, err)
	}
	return snap, len(raw), nil
}
