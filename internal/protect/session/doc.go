// Package session supervises the NVR update channel.
//
// A Supervisor dials the WebSocket, forwards every inbound message as an
// Event on a single ordered channel, and reconnects with exponential backoff
// when the link drops or goes idle. Authentication failures get exactly one
// credential refresh; a second rejection is fatal.
//
// Events for one link always arrive in the order EventUp, EventFrame...,
// EventDown. Each link carries a new Epoch so consumers can tell frames of a
// fresh link from those of the previous one.
package session
