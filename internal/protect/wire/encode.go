package wire

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
)

// EncodeOptions selects how Encode packs a mutation's data frame.
type EncodeOptions struct {
	// Format is the data frame payload format. Zero means FormatJSON.
	Format PayloadFormat

	// Deflate compresses both frames with zlib.
	Deflate bool
}

// Encode packs a mutation into an update-channel message. It is the inverse
// of Decode and is used by the replay tool and tests.
//
// Returns:
//   - []byte: action frame followed by data frame
//   - error: ErrEncode if the format has no codec or rejects the fields
func (d *Decoder) Encode(m *entity.Mutation, opts EncodeOptions) ([]byte, error) {
	format := opts.Format
	if format == 0 {
		format = FormatJSON
	}
	codec, ok := d.Codec(format)
	if !ok {
		return nil, fmt.Errorf("%w: unknown payload format %d", ErrEncode, format)
	}

	action, err := json.Marshal(actionFrame{
		Action:      string(m.Op),
		NewUpdateID: m.Revision.UpdateID,
		ModelKey:    string(m.Model),
		ID:          m.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: action frame: %w", ErrEncode, err)
	}

	fields := m.Fields
	if m.Op == entity.OpRemove && format == FormatJSON {
		fields = nil
	}
	payload, err := codec.Encode(fields)
	if err != nil {
		return nil, err
	}

	out, err := appendFrame(nil, PacketAction, FormatJSON, opts.Deflate, action)
	if err != nil {
		return nil, err
	}
	return appendFrame(out, PacketPayload, format, opts.Deflate, payload)
}

// EncodeControl packs a control signal. Heartbeats encode to an empty
// message; ping and pong encode as an action frame with no data frame.
func EncodeControl(kind ControlKind) ([]byte, error) {
	if kind == ControlHeartbeat {
		return []byte{}, nil
	}
	action, err := json.Marshal(actionFrame{Action: string(kind)})
	if err != nil {
		return nil, fmt.Errorf("%w: control frame: %w", ErrEncode, err)
	}
	return appendFrame(nil, PacketAction, FormatJSON, false, action)
}
