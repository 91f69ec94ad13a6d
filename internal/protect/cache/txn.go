package cache

import (
	"maps"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
)

// Txn stages changes against one generation. Nothing is visible to readers
// until Commit; a Txn that is never committed is simply discarded.
//
// A Txn is not safe for concurrent use.
type Txn struct {
	cache    *Cache
	base     *generation
	entities map[string]*entity.Entity
	revision entity.Revision
	notes    []Notification
}

// Begin starts a transaction on the latest generation.
func (c *Cache) Begin() *Txn {
	base := c.current.Load()
	return &Txn{
		cache:    c,
		base:     base,
		revision: base.revision,
	}
}

// Generation returns the sequence number the transaction will commit as.
func (t *Txn) Generation() uint64 {
	return t.base.seq + 1
}

// Revision returns the revision staged so far.
func (t *Txn) Revision() entity.Revision {
	return t.revision
}

// Lookup returns the staged entity for id. The returned entity is shared
// with the generation and must not be modified; use Put with a copy.
func (t *Txn) Lookup(id string) (*entity.Entity, bool) {
	if t.entities != nil {
		e, ok := t.entities[id]
		return e, ok
	}
	e, ok := t.base.entities[id]
	return e, ok
}

func (t *Txn) writable() map[string]*entity.Entity {
	if t.entities == nil {
		t.entities = maps.Clone(t.base.entities)
	}
	return t.entities
}

// Put stages an insert or replacement. The cache takes ownership of e.
func (t *Txn) Put(e *entity.Entity) {
	e.Modified = t.Generation()
	t.writable()[e.ID] = e
}

// Delete stages a removal.
func (t *Txn) Delete(id string) {
	delete(t.writable(), id)
}

// SetRevision stages the revision the generation will carry.
func (t *Txn) SetRevision(r entity.Revision) {
	t.revision = r
}

// Notify queues a mutation notification to publish after commit.
func (t *Txn) Notify(n Notification) {
	n.Kind = KindMutation
	t.notes = append(t.notes, n)
}

// Commit publishes the staged generation and then its notifications.
//
// Returns:
//   - uint64: the committed generation number
func (t *Txn) Commit() uint64 {
	c := t.cache
	entities := t.entities
	if entities == nil {
		entities = t.base.entities
	}
	gen := &generation{
		seq:        t.base.seq + 1,
		entities:   entities,
		revision:   t.revision,
		authUserID: t.base.authUserID,
		fetchedAt:  t.base.fetchedAt,
	}
	c.current.Store(gen)

	for _, n := range t.notes {
		n.Revision = gen.revision
		n.Generation = gen.seq
		c.publish(n)
	}
	return gen.seq
}
