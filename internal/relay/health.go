package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
)

// HealthPayload is the retained body of the protect health topic. The broker
// replaces it with the client's will ("offline") if the process dies.
type HealthPayload struct {
	Status    string    `json:"status"`
	Stale     bool      `json:"stale"`
	Failures  int       `json:"failures,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Revision  string    `json:"revision,omitempty"`
	Entities  int       `json:"entities"`
	Since     time.Time `json:"since"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthReporter publishes link health on every change and on demand.
type HealthReporter struct {
	pub    Publisher
	view   cache.View
	logger Logger
	again  kick
	now    func() time.Time
}

// NewHealthReporter creates a reporter for view.
func NewHealthReporter(pub Publisher, view cache.View) *HealthReporter {
	return &HealthReporter{
		pub:    pub,
		view:   view,
		logger: noopLogger{},
		again:  newKick(),
		now:    time.Now,
	}
}

// SetLogger sets the logger. Call before Run.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.logger = logger
}

// PublishNow asks Run to publish the current health immediately.
func (h *HealthReporter) PublishNow() {
	h.again.signal()
}

// Run publishes the current health, then every change, until ctx is
// cancelled or the cache closes. The final closed state is published before
// returning.
func (h *HealthReporter) Run(ctx context.Context) {
	sub := h.view.Subscribe()
	defer sub.Close()

	h.publish(h.view.Health())
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.again:
			h.publish(h.view.Health())
		case n, ok := <-sub.C():
			if !ok {
				h.publish(h.view.Health())
				return
			}
			if n.Kind == cache.KindState && n.Health != nil {
				h.publish(*n.Health)
			}
		}
	}
}

func (h *HealthReporter) publish(health cache.Health) {
	payload, err := json.Marshal(HealthPayload{
		Status:    string(health.State),
		Stale:     health.Stale,
		Failures:  health.Failures,
		LastError: health.LastError,
		Revision:  h.view.Revision().UpdateID,
		Entities:  h.view.Len(),
		Since:     health.Since,
		Timestamp: h.now().UTC(),
	})
	if err != nil {
		h.logger.Warn("encoding health failed", "error", err)
		return
	}
	if err := h.pub.PublishRetained(topics.ProtectHealth(), payload); err != nil {
		h.logger.Warn("publishing health failed", "error", err)
		return
	}
	h.logger.Debug("protect health published", "status", health.State, "stale", health.Stale)
}
