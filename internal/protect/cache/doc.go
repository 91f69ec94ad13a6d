// Package cache holds the live Protect entity graph.
//
// The cache is a sequence of immutable generations. The single writer (the
// update reconciler) stages changes in a Txn and commits them; Commit swaps
// the new generation in with one atomic store, so readers see either the
// whole change or none of it and never wait on the writer.
//
// Consumers read through View:
//
//	cam, err := view.Get("cam-1")          // deep copy, or entity.ErrNotFound
//	snap := view.Snapshot()                // whole graph at one generation
//	sub := view.Subscribe()
//	defer sub.Close()
//	for n := range sub.C() {
//	    switch n.Kind {
//	    case cache.KindMutation: // n.ID, n.Op, n.Changed
//	    case cache.KindReset:    // re-read with Snapshot
//	    case cache.KindState:    // n.Health
//	    }
//	}
package cache
