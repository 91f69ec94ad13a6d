// Package relay fans the protect entity cache out to the rest of Gray Logic.
//
// Each relay owns one cache subscription and runs until its context is
// cancelled or the cache is closed:
//
//   - StatePublisher mirrors every entity to a retained MQTT topic
//     (graylogic/state/protect/{model}/{id}) and clears it on removal.
//   - HealthReporter publishes the link health to graylogic/health/protect.
//   - StatsWriter sends numeric camera and sensor statistics to InfluxDB.
//   - CommandListener accepts resync requests over MQTT.
//
// A relay that sees a reset, or learns that it missed notifications,
// republishes from a fresh read of the cache instead of replaying deltas.
package relay
