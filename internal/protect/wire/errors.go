package wire

import "errors"

// Domain errors for the wire package.
var (
	// ErrDecode is returned for malformed headers, unknown payload formats,
	// payload/length mismatches and undecodable payloads.
	ErrDecode = errors.New("wire: decode failed")

	// ErrEncode is returned when a mutation cannot be represented in the
	// requested payload format.
	ErrEncode = errors.New("wire: encode failed")
)
