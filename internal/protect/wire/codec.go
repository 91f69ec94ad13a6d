package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"math/bits"
	"slices"
	"unicode/utf8"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
)

// Codec converts one payload format to and from a field map.
type Codec interface {
	// Format returns the header tag this codec handles.
	Format() PayloadFormat

	// Decode parses an inflated payload into a field map.
	Decode(payload []byte) (map[string]any, error)

	// Encode serialises a field map. It returns ErrEncode when the fields
	// cannot be represented in this format.
	Encode(fields map[string]any) ([]byte, error)
}

// jsonCodec handles structured text payloads.
type jsonCodec struct{}

func (jsonCodec) Format() PayloadFormat { return FormatJSON }

func (jsonCodec) Decode(payload []byte) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: json payload: %w", ErrDecode, err)
	}
	return fields, nil
}

func (jsonCodec) Encode(fields map[string]any) ([]byte, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: json payload: %w", ErrEncode, err)
	}
	return b, nil
}

// utf8Key is the field a UTF-8 string payload is exposed under.
const utf8Key = "value"

// utf8Codec handles bare string payloads.
type utf8Codec struct{}

func (utf8Codec) Format() PayloadFormat { return FormatUTF8String }

func (utf8Codec) Decode(payload []byte) (map[string]any, error) {
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("%w: invalid utf-8 payload", ErrDecode)
	}
	return map[string]any{utf8Key: string(payload)}, nil
}

func (utf8Codec) Encode(fields map[string]any) ([]byte, error) {
	s, ok := fields[utf8Key].(string)
	if !ok || len(fields) != 1 {
		return nil, fmt.Errorf("%w: utf8 payload needs exactly one string field %q", ErrEncode, utf8Key)
	}
	return []byte(s), nil
}

// Layout is a fixed field order for packed binary payloads.
type Layout struct {
	ID     uint8
	Name   string
	Fields []string
}

// Packed binary layouts. Field order is the bit order of the presence mask.
var (
	LayoutSensorStats = Layout{
		ID:   1,
		Name: "sensor-stats",
		Fields: []string{
			"stats.temperature.value",
			"stats.humidity.value",
			"stats.light.value",
			"batteryStatus.percentage",
		},
	}

	LayoutCameraStats = Layout{
		ID:   2,
		Name: "camera-stats",
		Fields: []string{
			"stats.rxBytes",
			"stats.txBytes",
			"stats.wifi.signalStrength",
			"stats.storage.used",
		},
	}
)

// packedHeaderSize is layout id (1) + presence mask (2).
const packedHeaderSize = 3

// packedCodec handles high-frequency numeric payloads.
//
// Layout:
//
//	Byte 0:   layout id
//	Byte 1-2: presence mask, big-endian, bit i set = Fields[i] present
//	Byte 3+:  one big-endian float64 per set bit, in field order
type packedCodec struct {
	layouts map[uint8]Layout
}

func newPackedCodec(layouts ...Layout) *packedCodec {
	c := &packedCodec{layouts: make(map[uint8]Layout, len(layouts))}
	for _, l := range layouts {
		c.layouts[l.ID] = l
	}
	return c
}

func (*packedCodec) Format() PayloadFormat { return FormatNodeBuffer }

func (c *packedCodec) Decode(payload []byte) (map[string]any, error) {
	if len(payload) < packedHeaderSize {
		return nil, fmt.Errorf("%w: packed payload too short (%d bytes)", ErrDecode, len(payload))
	}

	layout, ok := c.layouts[payload[0]]
	if !ok {
		return nil, fmt.Errorf("%w: unknown packed layout %d", ErrDecode, payload[0])
	}

	mask := binary.BigEndian.Uint16(payload[1:3])
	if mask>>len(layout.Fields) != 0 {
		return nil, fmt.Errorf("%w: mask %#04x has bits beyond %s layout", ErrDecode, mask, layout.Name)
	}

	want := packedHeaderSize + 8*bits.OnesCount16(mask)
	if len(payload) != want {
		return nil, fmt.Errorf("%w: packed %s payload is %d bytes, mask needs %d", ErrDecode, layout.Name, len(payload), want)
	}

	fields := make(map[string]any)
	pos := packedHeaderSize
	for i, path := range layout.Fields {
		if mask&(1<<i) == 0 {
			continue
		}
		v := math.Float64frombits(binary.BigEndian.Uint64(payload[pos : pos+8]))
		entity.SetPath(fields, path, v)
		pos += 8
	}
	return fields, nil
}

func (c *packedCodec) Encode(fields map[string]any) ([]byte, error) {
	flat := entity.Flatten(fields)
	if len(flat) == 0 {
		return nil, fmt.Errorf("%w: packed payload needs at least one field", ErrEncode)
	}

	for _, id := range slices.Sorted(maps.Keys(c.layouts)) {
		layout := c.layouts[id]
		if out, ok := encodeLayout(layout, flat); ok {
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: no packed layout covers fields %v", ErrEncode, slices.Sorted(maps.Keys(flat)))
}

func encodeLayout(layout Layout, flat map[string]any) ([]byte, bool) {
	var mask uint16
	values := make([]float64, 0, len(layout.Fields))
	matched := 0
	for i, path := range layout.Fields {
		v, ok := flat[path]
		if !ok {
			continue
		}
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		mask |= 1 << i
		values = append(values, f)
		matched++
	}
	if matched != len(flat) {
		return nil, false
	}

	out := make([]byte, 0, packedHeaderSize+8*len(values))
	out = append(out, layout.ID)
	out = binary.BigEndian.AppendUint16(out, mask)
	for _, f := range values {
		out = binary.BigEndian.AppendUint64(out, math.Float64bits(f))
	}
	return out, true
}
