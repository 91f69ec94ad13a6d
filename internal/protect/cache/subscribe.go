package cache

import (
	"sync/atomic"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
)

// Subscription is one consumer's notification stream.
//
// Delivery never blocks the writer: when the buffer is full the notification
// is dropped and counted, and the count is carried on the next notification
// that fits (Notification.Dropped). A subscriber that sees Dropped > 0 should
// re-read the cache with Snapshot.
type Subscription struct {
	id      uint64
	ch      chan Notification
	cache   *Cache
	pending uint64
	dropped atomic.Uint64
}

// C returns the notification channel. It is closed by Close or when the
// cache is closed.
func (s *Subscription) C() <-chan Notification {
	return s.ch
}

// Dropped returns the total number of notifications this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close removes the subscription and closes its channel.
func (s *Subscription) Close() {
	c := s.cache
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if _, ok := c.subs[s.id]; !ok {
		return
	}
	delete(c.subs, s.id)
	close(s.ch)
}

// Subscribe registers a new notification stream. Subscribing to a closed
// cache returns a subscription whose channel is already closed.
func (c *Cache) Subscribe() *Subscription {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	c.nextSub++
	sub := &Subscription{
		id:    c.nextSub,
		ch:    make(chan Notification, c.bufSize),
		cache: c,
	}
	if c.closed {
		close(sub.ch)
		return sub
	}
	c.subs[sub.id] = sub
	return sub
}

// publish fans a notification out to every subscriber without blocking.
func (c *Cache) publish(n Notification) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	for _, sub := range c.subs {
		out := n
		out.Changed = entity.DeepCopyMap(n.Changed)
		out.Dropped = sub.pending
		select {
		case sub.ch <- out:
			sub.pending = 0
		default:
			sub.pending++
			sub.dropped.Add(1)
		}
	}
	if len(c.subs) > 0 && n.Kind == KindMutation {
		c.log().Debug("notification published", "id", n.ID, "op", n.Op, "subscribers", len(c.subs))
	}
}
