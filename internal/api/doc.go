// Package api provides the HTTP REST API and WebSocket server for the
// protect live-state client.
//
// It exposes the entity cache, link health, counters and WS statistics to
// the rest of the building (panels, dashboards, monitoring). Reads never
// block the client's writer; every response is a copy taken from one cache
// generation.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Routes:
//
//	GET    /api/v1/health          link health (503 unless connected)
//	GET    /api/v1/status          link state, revision, counters, runtime
//	POST   /api/v1/resync          force a snapshot reload
//	GET    /api/v1/entities        cached entities, ?model= filters
//	GET    /api/v1/entities/{id}   one entity
//	GET    /api/v1/history         recorded link health transitions
//	GET    /api/v1/ws/stats        captured update-channel statistics
//	PUT    /api/v1/ws/stats        enable or disable capture
//	DELETE /api/v1/ws/stats        discard captured statistics
//	GET    /metrics                Prometheus exposition
//	GET    /ws                     cache notification push
//
// Push protocol: the server opens with a welcome carrying link health, the
// revision and the entity count. Clients send subscribe and unsubscribe
// (channels protect.mutation, protect.reset, protect.state; mutations may be
// narrowed by models and ids), get (entities by ids or model) and ping. Events
// carry the cache notification; "missed" reports events dropped for a slow
// client since its last delivery.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
