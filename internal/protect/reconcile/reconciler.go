package reconcile

import (
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
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

// Result describes an applied mutation.
type Result struct {
	// Changed holds the fields that actually changed (all fields for add,
	// nil for remove and for updates that changed nothing).
	Changed map[string]any

	// Filtered is set for an update whose fields matched the cache exactly.
	// The revision still advances but no entity notification is published.
	Filtered bool

	// Related lists other entities changed in the same generation.
	Related []string

	// Generation is the cache generation the mutation committed as.
	Generation uint64
}

// Stats holds reconciler counters.
type Stats struct {
	Applied  uint64
	Filtered uint64
	Rejected uint64
}

// Reconciler applies mutations to a cache. It is the cache's single writer.
//
// Thread Safety:
//   - Apply must be called from one goroutine at a time.
//   - Stats and SetLogger are safe for concurrent use.
type Reconciler struct {
	cache *cache.Cache

	applied  atomic.Uint64
	filtered atomic.Uint64
	rejected atomic.Uint64

	loggerMu sync.RWMutex
	logger   Logger
}

// New creates a Reconciler writing to c.
func New(c *cache.Cache) *Reconciler {
	return &Reconciler{cache: c, logger: noopLogger{}}
}

// SetLogger sets the logger for this reconciler.
func (r *Reconciler) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Reconciler) log() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// Stats returns reconciler counters.
func (r *Reconciler) Stats() Stats {
	return Stats{
		Applied:  r.applied.Load(),
		Filtered: r.filtered.Load(),
		Rejected: r.rejected.Load(),
	}
}

// Apply applies one mutation atomically.
//
// Rules:
//   - add inserts; the id must not exist
//   - update deep-merges Fields; the id must exist with the same model
//   - remove deletes; the id must exist with the same model
//   - the mutation's revision must directly follow the cache revision
//
// Parameters:
//   - m: decoded mutation; not retained
//
// Returns:
//   - Result: what changed
//   - error: *RejectError (matches ErrReject); the cache is unchanged
func (r *Reconciler) Apply(m *entity.Mutation) (Result, error) {
	res, err := r.apply(m)
	if err != nil {
		r.rejected.Add(1)
		r.log().Warn("mutation rejected", "id", idOf(m), "error", err)
		return Result{}, err
	}
	if res.Filtered {
		r.filtered.Add(1)
	} else {
		r.applied.Add(1)
	}
	return res, nil
}

func (r *Reconciler) apply(m *entity.Mutation) (Result, error) {
	if m == nil || m.ID == "" {
		return Result{}, reject(ReasonInvalid, idOf(m), "mutation without id")
	}

	txn := r.cache.Begin()
	if err := checkOrder(m.ID, txn.Revision(), m.Revision); err != nil {
		return Result{}, err
	}

	cur, exists := txn.Lookup(m.ID)
	var res Result

	switch m.Op {
	case entity.OpAdd:
		if exists {
			return Result{}, reject(ReasonExists, m.ID, "add for existing %s", cur.Model)
		}
		fields := entity.DeepCopyMap(m.Fields)
		if fields == nil {
			fields = make(map[string]any)
		}
		txn.Put(&entity.Entity{ID: m.ID, Model: m.Model, Fields: fields})
		res.Changed = entity.DeepCopyMap(fields)
		txn.Notify(cache.Notification{ID: m.ID, Model: m.Model, Op: entity.OpAdd, Changed: res.Changed})
		res.Related = applyEventSideEffects(txn, m.ID, m.Model, fields)

	case entity.OpUpdate:
		if err := checkTarget(m, cur, exists); err != nil {
			return Result{}, err
		}
		next := cur.DeepCopy()
		if next.Fields == nil {
			next.Fields = make(map[string]any)
		}
		res.Changed = entity.Merge(next.Fields, m.Fields)
		if res.Changed == nil {
			res.Filtered = true
			break
		}
		txn.Put(next)
		txn.Notify(cache.Notification{ID: m.ID, Model: m.Model, Op: entity.OpUpdate, Changed: res.Changed})

	case entity.OpRemove:
		if err := checkTarget(m, cur, exists); err != nil {
			return Result{}, err
		}
		txn.Delete(m.ID)
		txn.Notify(cache.Notification{ID: m.ID, Model: m.Model, Op: entity.OpRemove})

	default:
		return Result{}, reject(ReasonInvalid, m.ID, "unknown op %q", m.Op)
	}

	txn.SetRevision(advance(txn.Revision(), m.Revision))
	res.Generation = txn.Commit()
	return res, nil
}

func checkTarget(m *entity.Mutation, cur *entity.Entity, exists bool) error {
	if !exists {
		return reject(ReasonMissing, m.ID, "%s for absent %s", m.Op, m.Model)
	}
	if cur.Model != m.Model {
		return reject(ReasonModelMismatch, m.ID, "%s for %s, cache has %s", m.Op, m.Model, cur.Model)
	}
	return nil
}

// checkOrder rejects a mutation whose revision does not directly follow cur.
// A zero Seq skips the sequence check; an empty UpdateID skips the id check.
func checkOrder(id string, cur, next entity.Revision) error {
	if next.UpdateID != "" && next.UpdateID == cur.UpdateID {
		return reject(ReasonReplay, id, "update id %s already applied", next.UpdateID)
	}
	if next.Seq == 0 {
		return nil
	}
	if next.Seq <= cur.Seq {
		return reject(ReasonReplay, id, "seq %d not after %d", next.Seq, cur.Seq)
	}
	if next.Seq > cur.Seq+1 {
		return reject(ReasonGap, id, "seq %d skips %d mutation(s) after %d", next.Seq, next.Seq-cur.Seq-1, cur.Seq)
	}
	return nil
}

func advance(cur, next entity.Revision) entity.Revision {
	if next.UpdateID != "" {
		cur.UpdateID = next.UpdateID
	}
	if next.Seq != 0 {
		cur.Seq = next.Seq
	}
	return cur
}

func idOf(m *entity.Mutation) string {
	if m == nil {
		return ""
	}
	return m.ID
}
