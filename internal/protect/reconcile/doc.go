// Package reconcile applies decoded mutations to the entity cache.
//
// Each Apply runs in one cache transaction: ordering checks, the entity
// change and any side effects are staged together and committed at once, or
// the transaction is dropped and a *RejectError is returned. A rejection
// always means the local cache no longer matches the NVR; callers hand it to
// the resync controller and never retry the mutation.
package reconcile
