package relay

import (
	"context"
	"encoding/json"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
)

// StatePayload is the retained body of an entity state topic.
type StatePayload struct {
	ID       string         `json:"id"`
	Model    string         `json:"model"`
	Fields   map[string]any `json:"fields"`
	Revision string         `json:"revision,omitempty"`
}

// StatePublisher mirrors the cache onto retained MQTT topics.
//
// Thread Safety:
//   - Run must be called once. Republish and SetLogger are safe from any
//     goroutine.
type StatePublisher struct {
	pub    Publisher
	view   cache.View
	logger Logger
	again  kick

	// published maps entity id to the model its topic was written under.
	published map[string]entity.ModelType
}

// NewStatePublisher creates a publisher for view.
func NewStatePublisher(pub Publisher, view cache.View) *StatePublisher {
	return &StatePublisher{
		pub:       pub,
		view:      view,
		logger:    noopLogger{},
		again:     newKick(),
		published: make(map[string]entity.ModelType),
	}
}

// SetLogger sets the logger. Call before Run.
func (p *StatePublisher) SetLogger(logger Logger) {
	p.logger = logger
}

// Republish asks Run to rewrite every topic, e.g. after the broker
// connection was re-established.
func (p *StatePublisher) Republish() {
	p.again.signal()
}

// Run publishes the current cache, then follows it until ctx is cancelled or
// the cache closes.
func (p *StatePublisher) Run(ctx context.Context) {
	sub := p.view.Subscribe()
	defer sub.Close()

	p.publishAll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.again:
			p.publishAll()
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			p.handle(n)
		}
	}
}

func (p *StatePublisher) handle(n cache.Notification) {
	if n.Dropped > 0 || n.Kind == cache.KindReset {
		p.publishAll()
		return
	}
	if n.Kind != cache.KindMutation {
		return
	}

	switch n.Op {
	case entity.OpRemove:
		p.clear(n.ID, n.Model)
	default:
		e, err := p.view.Get(n.ID)
		if err != nil {
			// Removed again before we got here; the remove notification follows.
			return
		}
		p.publish(e, n.Revision.UpdateID)
	}
}

// publishAll writes every cached entity and clears topics of entities that
// are gone.
func (p *StatePublisher) publishAll() {
	snap := p.view.Snapshot()
	for id, model := range p.published {
		if e, ok := snap.Entities[id]; !ok || e.Model != model {
			p.clear(id, model)
		}
	}
	for _, e := range snap.Entities {
		p.publish(e, snap.Revision.UpdateID)
	}
	p.logger.Debug("protect state republished", "entities", len(snap.Entities))
}

func (p *StatePublisher) publish(e *entity.Entity, revision string) {
	payload, err := json.Marshal(StatePayload{
		ID:       e.ID,
		Model:    string(e.Model),
		Fields:   e.Fields,
		Revision: revision,
	})
	if err != nil {
		p.logger.Warn("encoding entity state failed", "id", e.ID, "error", err)
		return
	}
	if err := p.pub.PublishRetained(topics.ProtectState(string(e.Model), e.ID), payload); err != nil {
		p.logger.Warn("publishing entity state failed", "id", e.ID, "error", err)
		return
	}
	p.published[e.ID] = e.Model
}

func (p *StatePublisher) clear(id string, model entity.ModelType) {
	if err := p.pub.ClearRetained(topics.ProtectState(string(model), id)); err != nil {
		p.logger.Warn("clearing entity state failed", "id", id, "error", err)
		return
	}
	delete(p.published, id)
}
