package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
)

// Push channels, one per cache notification kind.
const (
	ChannelMutation = "protect.mutation"
	ChannelReset    = "protect.reset"
	ChannelState    = "protect.state"
)

// channelFor maps a notification kind to its push channel.
func channelFor(kind cache.Kind) string {
	switch kind {
	case cache.KindMutation:
		return ChannelMutation
	case cache.KindReset:
		return ChannelReset
	default:
		return ChannelState
	}
}

func knownChannel(ch string) bool {
	return ch == ChannelMutation || ch == ChannelReset || ch == ChannelState
}

// filter selects the notifications a client receives. Empty model and id
// sets match every mutation; resets and state changes ignore them.
type filter struct {
	channels map[string]bool
	models   map[entity.ModelType]bool
	ids      map[string]bool
}

func newFilter() filter {
	return filter{
		channels: make(map[string]bool),
		models:   make(map[entity.ModelType]bool),
		ids:      make(map[string]bool),
	}
}

func (f filter) matches(channel string, n *cache.Notification) bool {
	if !f.channels[channel] {
		return false
	}
	if channel != ChannelMutation {
		return true
	}
	if len(f.models) > 0 && !f.models[n.Model] {
		return false
	}
	return len(f.ids) == 0 || f.ids[n.ID]
}

// Hub tracks push clients and fans cache notifications out to them.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Hub struct {
	logger *logging.Logger
	view   cache.View

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// NewHub creates a hub serving notifications from view.
func NewHub(logger *logging.Logger, view cache.View) *Hub {
	return &Hub{
		logger:  logger,
		view:    view,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.stop()
	}
}

func (h *Hub) add(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "remote", c.remote, "clients", n)
}

func (h *Hub) remove(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.stop()
		h.logger.Debug("websocket client disconnected", "remote", c.remote, "clients", n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers n to every client whose filter matches. A client whose
// send buffer is full misses the message and is told how many it missed on
// the next one it receives.
func (h *Hub) Publish(n cache.Notification) {
	channel := channelFor(n.Kind)

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(channel, &n) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   n,
	}
	shared, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("websocket event encoding failed", "channel", channel, "error", err)
		return
	}

	for _, c := range targets {
		data := shared
		missed := c.missed.Load()
		if missed > 0 {
			msg.Missed = missed
			data, err = json.Marshal(msg)
			msg.Missed = 0
			if err != nil {
				continue
			}
		}
		if !c.enqueue(data) {
			c.missed.Add(1)
			continue
		}
		if missed > 0 {
			c.missed.Add(^(missed - 1))
		}
	}
}

// forwardNotifications publishes every cache notification to the hub until
// ctx is cancelled or the cache closes.
func (s *Server) forwardNotifications(ctx context.Context) {
	sub := s.client.View().Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			if n.Dropped > 0 {
				s.logger.Warn("websocket relay missed notifications", "dropped", n.Dropped)
			}
			s.hub.Publish(n)
		}
	}
}
