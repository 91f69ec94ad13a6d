package protect

import (
	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/reconcile"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/resync"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/wire"
)

// FrameInfo describes one inbound message.
type FrameInfo struct {
	Size       int
	Format     wire.PayloadFormat
	Compressed bool
	Control    bool
	Err        error
}

// Observer receives pipeline callbacks on the writer goroutine.
// Implementations must not block.
type Observer interface {
	// FrameDecoded is called for every inbound message, including control
	// signals and failures.
	FrameDecoded(f FrameInfo)

	// MutationApplied is called after a mutation was committed or filtered.
	MutationApplied(m *entity.Mutation, res reconcile.Result)

	// MutationRejected is called when the reconciler refused a mutation.
	MutationRejected(m *entity.Mutation, err *reconcile.RejectError)

	// MutationsDropped is called when mutations are discarded while the
	// cache is not live. buffered reports whether the resync buffer was full.
	MutationsDropped(n int, buffered bool)

	// ResyncTransition is called on every resync state change.
	ResyncTransition(tr resync.Transition)

	// HealthChanged is called after the cache health was updated.
	HealthChanged(h cache.Health)
}

// BaseObserver implements Observer with no-ops; embed it to override only
// the callbacks you need.
type BaseObserver struct{}

func (BaseObserver) FrameDecoded(FrameInfo)                                    {}
func (BaseObserver) MutationApplied(*entity.Mutation, reconcile.Result)        {}
func (BaseObserver) MutationRejected(*entity.Mutation, *reconcile.RejectError) {}
func (BaseObserver) MutationsDropped(int, bool)                                {}
func (BaseObserver) ResyncTransition(resync.Transition)                        {}
func (BaseObserver) HealthChanged(cache.Health)                                {}

type observers []Observer

func (obs observers) FrameDecoded(f FrameInfo) {
	for _, o := range obs {
		o.FrameDecoded(f)
	}
}

func (obs observers) MutationApplied(m *entity.Mutation, res reconcile.Result) {
	for _, o := range obs {
		o.MutationApplied(m, res)
	}
}

func (obs observers) MutationRejected(m *entity.Mutation, err *reconcile.RejectError) {
	for _, o := range obs {
		o.MutationRejected(m, err)
	}
}

func (obs observers) MutationsDropped(n int, buffered bool) {
	for _, o := range obs {
		o.MutationsDropped(n, buffered)
	}
}

func (obs observers) ResyncTransition(tr resync.Transition) {
	for _, o := range obs {
		o.ResyncTransition(tr)
	}
}

func (obs observers) HealthChanged(h cache.Health) {
	for _, o := range obs {
		o.HealthChanged(h)
	}
}
