// Package store persists protect client state in SQLite.
//
// Snapshots holds the last installed entity graph per NVR so a restarted
// client can serve stale-but-valid data before its first live bootstrap.
// It satisfies protect.SnapshotStore.
//
// HealthHistory records link health transitions for diagnostics, with
// age-based pruning.
package store
