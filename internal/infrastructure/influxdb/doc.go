// Package influxdb writes protect telemetry to InfluxDB v2.
//
// It wraps influxdb-client-go with connection checks, batched non-blocking
// writes and an error callback for asynchronous write failures.
//
// Measurements:
//
//	protect_stats   numeric stats of cameras and sensors, tagged model and id
//	protect_link    link health transitions, tagged state
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteProtectStats("sensor", "sensor-1", map[string]any{"stats.temperature.value": 21.5}, time.Now())
package influxdb
