package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// HeaderSize is the fixed size of a frame header in bytes.
const HeaderSize = 8

// maxInflatedSize bounds a decompressed payload.
const maxInflatedSize = 16 << 20

// PacketType identifies the role of a frame within a message.
type PacketType int8

// Frame roles.
const (
	PacketAction  PacketType = 1
	PacketPayload PacketType = 2
)

// PayloadFormat is the encoding tag carried in a frame header.
type PayloadFormat int8

// Payload formats understood by the default codec set.
const (
	FormatJSON       PayloadFormat = 1
	FormatUTF8String PayloadFormat = 2
	FormatNodeBuffer PayloadFormat = 3
)

// String returns the format name used in logs and metrics labels.
func (f PayloadFormat) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatUTF8String:
		return "utf8"
	case FormatNodeBuffer:
		return "nodebuffer"
	default:
		return fmt.Sprintf("format(%d)", int8(f))
	}
}

// Header is the decoded 8-byte frame header.
type Header struct {
	PacketType  PacketType
	Format      PayloadFormat
	Deflated    bool
	Reserved    int8
	PayloadSize int32
}

// ParseHeader decodes a frame header from the start of data.
//
// Returns:
//   - Header: decoded header
//   - error: ErrDecode if data is short, the deflated flag is not 0/1, or
//     the payload size is negative
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header too short (%d bytes, need %d)", ErrDecode, len(data), HeaderSize)
	}

	h := Header{
		PacketType:  PacketType(int8(data[0])),
		Format:      PayloadFormat(int8(data[1])),
		Reserved:    int8(data[3]),
		PayloadSize: int32(binary.BigEndian.Uint32(data[4:8])), //nolint:gosec // signed on the wire
	}

	switch data[2] {
	case 0:
	case 1:
		h.Deflated = true
	default:
		return Header{}, fmt.Errorf("%w: invalid deflated flag %d", ErrDecode, data[2])
	}

	if h.PayloadSize < 0 {
		return Header{}, fmt.Errorf("%w: negative payload size %d", ErrDecode, h.PayloadSize)
	}

	return h, nil
}

// AppendTo appends the encoded header to dst.
func (h Header) AppendTo(dst []byte) []byte {
	var deflated byte
	if h.Deflated {
		deflated = 1
	}
	dst = append(dst, byte(h.PacketType), byte(h.Format), deflated, byte(h.Reserved))
	return binary.BigEndian.AppendUint32(dst, uint32(h.PayloadSize)) //nolint:gosec // size checked by caller
}

// Frame is one header plus its payload. Payload is always the inflated bytes.
type Frame struct {
	Header  Header
	Payload []byte
}

// readFrame decodes the frame starting at pos and returns it together with
// the position of the next frame.
func readFrame(data []byte, pos int) (Frame, int, error) {
	h, err := ParseHeader(data[pos:])
	if err != nil {
		return Frame{}, 0, err
	}

	start := pos + HeaderSize
	if int64(h.PayloadSize) > int64(len(data)-start) {
		return Frame{}, 0, fmt.Errorf("%w: payload size %d exceeds remaining %d bytes", ErrDecode, h.PayloadSize, len(data)-start)
	}
	end := start + int(h.PayloadSize)

	payload := data[start:end]
	if h.Deflated {
		payload, err = inflate(payload)
		if err != nil {
			return Frame{}, 0, err
		}
	}

	return Frame{Header: h, Payload: payload}, end, nil
}

// appendFrame encodes payload as a frame, compressing it when deflate is set.
func appendFrame(dst []byte, pt PacketType, format PayloadFormat, deflate bool, payload []byte) ([]byte, error) {
	if deflate {
		var err error
		payload, err = compress(payload)
		if err != nil {
			return nil, err
		}
	}
	h := Header{
		PacketType:  pt,
		Format:      format,
		Deflated:    deflate,
		PayloadSize: int32(len(payload)), //nolint:gosec // payloads are far below 2GiB
	}
	dst = h.AppendTo(dst)
	return append(dst, payload...), nil
}

func inflate(payload []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %w", ErrDecode, err)
	}
	defer r.Close() //nolint:errcheck // read-only

	out, err := io.ReadAll(io.LimitReader(r, maxInflatedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib: %w", ErrDecode, err)
	}
	if len(out) > maxInflatedSize {
		return nil, fmt.Errorf("%w: inflated payload exceeds %d bytes", ErrDecode, maxInflatedSize)
	}
	return out, nil
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("%w: zlib: %w", ErrEncode, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: zlib: %w", ErrEncode, err)
	}
	return buf.Bytes(), nil
}
