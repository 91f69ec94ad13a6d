// Package protect keeps a live, consistent in-memory model of a UniFi
// Protect NVR.
//
// A Client wires the pieces together:
//
//	nvrapi.Client ──► session.Supervisor ──► writer goroutine ──► cache.Cache
//	                                          │  wire.Decoder         ▲
//	                                          │  reconcile.Reconciler │
//	bootstrap.Loader ◄── resync.Controller ◄──┘                       │
//	                                    └──────── snapshot ───────────┘
//
// One writer goroutine owns the inbound stream: it decodes each message,
// applies the mutation through the reconciler and, when the reconciler or
// the link reports divergence, hands control to the resync controller,
// which reloads the full state and installs it atomically. Readers use the
// cache.View returned by View and never block the writer.
//
// Several Clients can coexist; nothing is global.
package protect
