// Package bootstrap loads the NVR's full state.
//
// A Loader performs one bootstrap request, parses the document into an
// entity.Snapshot and checks it for referential completeness. It never
// touches the cache; installing the result is the caller's decision, so a
// failed load leaves existing state untouched.
package bootstrap
