package events

import (
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/protect"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/resync"
)

// Observer publishes client callbacks onto a Bus.
type Observer struct {
	protect.BaseObserver

	bus  *Bus
	view cache.View
	live bool
	now  func() time.Time
}

// NewObserver returns a protect.Observer that publishes to bus. view supplies
// the revision and entity count for SessionConnected; it may be nil.
func NewObserver(bus *Bus, view cache.View) *Observer {
	return &Observer{bus: bus, view: view, now: time.Now}
}

// SetView sets the view read on SessionConnected. Call it before the
// client's Connect.
func (o *Observer) SetView(view cache.View) {
	o.view = view
}

// HealthChanged publishes SessionConnected and SessionDisconnected on edges
// into and out of the connected state.
func (o *Observer) HealthChanged(h cache.Health) {
	switch {
	case h.State == cache.LinkConnected && !o.live:
		o.live = true
		ev := SessionConnected{Timestamp: o.now()}
		if o.view != nil {
			ev.Revision = o.view.Revision().UpdateID
			ev.Entities = o.view.Len()
		}
		o.bus.Publish(ev)

	case h.State != cache.LinkConnected && o.live:
		o.live = false
		o.bus.Publish(SessionDisconnected{
			State:     string(h.State),
			Error:     h.LastError,
			Timestamp: o.now(),
		})
	}
}

// ResyncTransition publishes ResyncStarted and ResyncFailed.
func (o *Observer) ResyncTransition(tr resync.Transition) {
	switch {
	case tr.Err != nil:
		o.bus.Publish(ResyncFailed{
			Error:     tr.Err.Error(),
			Failures:  tr.Failures,
			Degraded:  tr.Degraded,
			RetryIn:   tr.RetryIn,
			Timestamp: o.now(),
		})
	case tr.To == resync.StateResyncing && tr.From != resync.StateResyncing:
		o.bus.Publish(ResyncStarted{Reason: tr.Reason, Timestamp: o.now()})
	}
}
