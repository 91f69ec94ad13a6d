// Package metrics exports protect client pipeline counters to Prometheus.
//
// Each Metrics value owns its registry so that several clients, and tests,
// never collide on registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-nvr/internal/protect"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/reconcile"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/resync"
)

const (
	namespace = "graylogic"
	subsystem = "protect"
)

var linkStates = []cache.LinkState{
	cache.LinkConnecting,
	cache.LinkConnected,
	cache.LinkReconnecting,
	cache.LinkResyncing,
	cache.LinkDegraded,
	cache.LinkClosed,
}

// Metrics implements protect.Observer.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Metrics struct {
	protect.BaseObserver

	registry *prometheus.Registry

	frames        *prometheus.CounterVec
	frameBytes    prometheus.Counter
	mutations     *prometheus.CounterVec
	rejects       *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	resyncs       prometheus.Counter
	resyncFailure prometheus.Counter
	linkState     *prometheus.GaugeVec
	linkStale     prometheus.Gauge
	linkFailures  prometheus.Gauge
}

// New creates a Metrics with a private registry holding the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frames_total",
			Help:      "Update-channel messages received, by payload format and outcome.",
		}, []string{"format", "result"}),
		frameBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "frame_bytes_total",
			Help:      "Bytes of update-channel messages received.",
		}),
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mutations_total",
			Help:      "Mutations processed by the reconciler, by model, action and outcome.",
		}, []string{"model", "action", "outcome"}),
		rejects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rejects_total",
			Help:      "Mutations rejected by the reconciler, by reason.",
		}, []string{"reason"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mutations_dropped_total",
			Help:      "Mutations discarded while the cache was not live.",
		}, []string{"cause"}),
		resyncs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resyncs_total",
			Help:      "Snapshot reloads started.",
		}),
		resyncFailure: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resync_failures_total",
			Help:      "Snapshot reloads that failed.",
		}),
		linkState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "link_state",
			Help:      "1 for the current link state, 0 otherwise.",
		}, []string{"state"}),
		linkStale: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "link_stale",
			Help:      "1 while the cache serves unconfirmed data.",
		}),
		linkFailures: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "link_failures",
			Help:      "Consecutive failed snapshot reloads.",
		}),
	}
}

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WatchView registers gauges read from view at scrape time.
func (m *Metrics) WatchView(view cache.View) {
	f := promauto.With(m.registry)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "entities",
		Help:      "Entities in the cache.",
	}, func() float64 { return float64(view.Len()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "revision_seq",
		Help:      "Sequence number of the last applied mutation.",
	}, func() float64 { return float64(view.Revision().Seq) })
}

// FrameDecoded counts one inbound message.
func (m *Metrics) FrameDecoded(f protect.FrameInfo) {
	m.frameBytes.Add(float64(f.Size))
	switch {
	case f.Err != nil:
		m.frames.WithLabelValues("unknown", "error").Inc()
	case f.Control:
		m.frames.WithLabelValues(f.Format.String(), "control").Inc()
	default:
		m.frames.WithLabelValues(f.Format.String(), "ok").Inc()
	}
}

// MutationApplied counts a committed or filtered mutation.
func (m *Metrics) MutationApplied(mu *entity.Mutation, res reconcile.Result) {
	outcome := "applied"
	if res.Filtered {
		outcome = "filtered"
	}
	m.mutations.WithLabelValues(string(mu.Model), string(mu.Op), outcome).Inc()
}

// MutationRejected counts a rejected mutation.
func (m *Metrics) MutationRejected(mu *entity.Mutation, err *reconcile.RejectError) {
	m.mutations.WithLabelValues(string(mu.Model), string(mu.Op), "rejected").Inc()
	m.rejects.WithLabelValues(string(err.Reason)).Inc()
}

// MutationsDropped counts discarded mutations.
func (m *Metrics) MutationsDropped(n int, buffered bool) {
	cause := "desynced"
	if buffered {
		cause = "overflow"
	}
	m.dropped.WithLabelValues(cause).Add(float64(n))
}

// ResyncTransition counts reload starts and failures.
func (m *Metrics) ResyncTransition(tr resync.Transition) {
	if tr.Err != nil {
		m.resyncFailure.Inc()
		return
	}
	if tr.To == resync.StateResyncing && tr.From != resync.StateResyncing {
		m.resyncs.Inc()
	}
}

// HealthChanged updates the link gauges.
func (m *Metrics) HealthChanged(h cache.Health) {
	for _, s := range linkStates {
		v := 0.0
		if s == h.State {
			v = 1
		}
		m.linkState.WithLabelValues(string(s)).Set(v)
	}
	if h.Stale {
		m.linkStale.Set(1)
	} else {
		m.linkStale.Set(0)
	}
	m.linkFailures.Set(float64(h.Failures))
}
