package relay

import (
	"context"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
)

// StatsSink receives numeric statistics. *influxdb.Client satisfies it.
type StatsSink interface {
	WriteProtectStats(model, id string, fields map[string]any, at time.Time)
	WriteLinkState(state string, stale bool, failures int, at time.Time)
}

// statsPrefixes are the field subtrees exported as time series.
var statsPrefixes = []string{"stats.", "batteryStatus."}

// StatsWriter turns camera and sensor statistics updates into points.
type StatsWriter struct {
	sink   StatsSink
	view   cache.View
	logger Logger
	now    func() time.Time
}

// NewStatsWriter creates a writer for view.
func NewStatsWriter(sink StatsSink, view cache.View) *StatsWriter {
	return &StatsWriter{sink: sink, view: view, logger: noopLogger{}, now: time.Now}
}

// SetLogger sets the logger. Call before Run.
func (w *StatsWriter) SetLogger(logger Logger) {
	w.logger = logger
}

// Run follows the cache until ctx is cancelled or the cache closes.
func (w *StatsWriter) Run(ctx context.Context) {
	sub := w.view.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			w.handle(n)
		}
	}
}

func (w *StatsWriter) handle(n cache.Notification) {
	if n.Dropped > 0 {
		w.logger.Warn("stats writer missed notifications, resampling", "dropped", n.Dropped)
	}
	if n.Dropped > 0 || n.Kind == cache.KindReset {
		// The resample covers this notification's entity too.
		w.resample()
		if n.Kind != cache.KindState {
			return
		}
	}

	switch n.Kind {
	case cache.KindState:
		if n.Health != nil {
			w.sink.WriteLinkState(string(n.Health.State), n.Health.Stale, n.Health.Failures, w.now())
		}
	case cache.KindMutation:
		if n.Op == entity.OpRemove {
			return
		}
		if n.Model != entity.ModelCamera && n.Model != entity.ModelSensor {
			return
		}
		if fields := NumericStats(n.Changed); len(fields) > 0 {
			w.sink.WriteProtectStats(string(n.Model), n.ID, fields, w.now())
		}
	}
}

// resample writes the current statistics of every camera and sensor.
func (w *StatsWriter) resample() {
	at := w.now()
	for _, model := range []entity.ModelType{entity.ModelCamera, entity.ModelSensor} {
		for _, e := range w.view.List(model) {
			if fields := NumericStats(e.Fields); len(fields) > 0 {
				w.sink.WriteProtectStats(string(model), e.ID, fields, at)
			}
		}
	}
}

// NumericStats returns the numeric leaves of fields under stats and
// batteryStatus, keyed by dotted path.
func NumericStats(fields map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range entity.Flatten(fields) {
		if !hasStatsPrefix(k) {
			continue
		}
		switch n := v.(type) {
		case float64:
			out[k] = n
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		}
	}
	return out
}

func hasStatsPrefix(key string) bool {
	for _, p := range statsPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}
