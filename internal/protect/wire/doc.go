// Package wire decodes the Protect update channel's binary messages.
//
// Every WebSocket message on /proxy/protect/ws/updates is two frames back to
// back: an action frame describing what changed and a data frame carrying
// the changed fields. Each frame starts with an 8-byte header:
//
//	Byte 0:   packet type   (1 = action, 2 = payload)
//	Byte 1:   payload format (1 = JSON, 2 = UTF-8 string, 3 = packed binary)
//	Byte 2:   deflated flag (payload is zlib compressed)
//	Byte 3:   reserved
//	Byte 4-7: payload size, big-endian, bytes on the wire
//
// Payload formats are handled by Codec implementations registered on a
// Decoder by format tag. Adding a format means adding a Codec and calling
// Register; nothing outside this package branches on the format.
//
// Heartbeats (zero-length messages) and ping/pong actions decode to a
// ControlSignal and never produce a Mutation.
package wire
