// Package entity defines the data model shared by every stage of the Protect
// update pipeline: entities, snapshots, mutations and revision markers.
//
// # Key Types
//
//   - Entity: one managed NVR object (camera, sensor, light, user, ...)
//   - Snapshot: the full entity graph returned by the bootstrap endpoint
//   - Mutation: one decoded add/update/remove from the push channel
//   - Revision: the ordering marker carried by snapshots and mutations
//
// Entities handed out by the cache are always deep copies. Nothing in this
// package is safe for concurrent mutation; callers copy before sharing.
//
// # Referential completeness
//
// A Snapshot is only installed when every relationship field points at an
// entity present in the same snapshot:
//
//	snap, err := entity.ParseBootstrap(raw, time.Now())
//	if err != nil {
//	    return err
//	}
//	if err := snap.Validate(); err != nil {
//	    // errors.Is(err, entity.ErrIncomplete)
//	}
package entity
