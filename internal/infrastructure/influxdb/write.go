package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementProtectStats = "protect_stats"
	MeasurementProtectLink  = "protect_link"
)

// WriteProtectStats records the numeric stats of one camera or sensor.
// fields are flattened dotted paths (e.g. "stats.rxBytes"). Empty field
// sets are skipped.
func (c *Client) WriteProtectStats(model, id string, fields map[string]any, at time.Time) {
	if len(fields) == 0 {
		return
	}
	c.WritePointWithTime(MeasurementProtectStats,
		map[string]string{"model": model, "id": id},
		fields, at)
}

// WriteLinkState records a link health transition.
func (c *Client) WriteLinkState(state string, stale bool, failures int, at time.Time) {
	c.WritePointWithTime(MeasurementProtectLink,
		map[string]string{"state": state},
		map[string]any{"stale": stale, "failures": failures},
		at)
}

// WritePoint writes a point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
