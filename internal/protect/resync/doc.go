// Package resync decides when the entity cache must be rebuilt from a
// bootstrap snapshot.
//
// The Controller is a small state machine:
//
//	Connected --(reject, decode errors, link down)--> Desynced
//	Desynced  --(link up, retry timer)--------------> Resyncing
//	Resyncing --(load ok)---------------------------> Connected
//	Resyncing --(load failed)-----------------------> Desynced (retry with backoff)
//
// It is owned by the client's writer goroutine: every method except Close
// and Stats must be called from that goroutine. Loads run in their own
// goroutine and report back through Results; each load carries an attempt
// number so results from superseded attempts are ignored. A desync request
// while a load is already pending is a no-op, so one desync costs exactly
// one bootstrap.
package resync
