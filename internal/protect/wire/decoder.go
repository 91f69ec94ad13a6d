package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
)

// ControlKind identifies a control signal.
type ControlKind string

// Control signals carried on the update channel.
const (
	ControlHeartbeat ControlKind = "heartbeat"
	ControlPing      ControlKind = "ping"
	ControlPong      ControlKind = "pong"
)

// ControlSignal is a decoded frame that carries no entity change.
type ControlSignal struct {
	Kind ControlKind
}

// Result is the outcome of decoding one message. Exactly one of Mutation and
// Control is set.
type Result struct {
	Mutation *entity.Mutation
	Control  *ControlSignal

	// Format is the data frame's payload format (zero for control signals).
	Format PayloadFormat

	// Compressed reports whether the data frame was deflated.
	Compressed bool
}

// actionFrame is the JSON body of the first frame in a message.
type actionFrame struct {
	Action      string `json:"action"`
	NewUpdateID string `json:"newUpdateId"`
	ModelKey    string `json:"modelKey"`
	ID          string `json:"id"`
}

// Decoder turns raw update-channel messages into mutations.
//
// Thread Safety:
//   - Decode is safe for concurrent use; Register takes a write lock.
type Decoder struct {
	mu     sync.RWMutex
	codecs map[PayloadFormat]Codec
}

// NewDecoder creates a Decoder with the JSON, UTF-8 and packed binary codecs
// registered.
func NewDecoder() *Decoder {
	d := &Decoder{codecs: make(map[PayloadFormat]Codec)}
	d.Register(jsonCodec{})
	d.Register(utf8Codec{})
	d.Register(newPackedCodec(LayoutSensorStats, LayoutCameraStats))
	return d
}

// Register installs a codec for its format tag, replacing any existing one.
func (d *Decoder) Register(c Codec) {
	d.mu.Lock()
	d.codecs[c.Format()] = c
	d.mu.Unlock()
}

// Codec returns the codec registered for a format tag.
func (d *Decoder) Codec(f PayloadFormat) (Codec, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.codecs[f]
	return c, ok
}

// Decode parses one update-channel message.
//
// A zero-length message is a heartbeat. Otherwise the message must be an
// action frame followed by a data frame with no trailing bytes.
//
// Parameters:
//   - raw: the complete WebSocket binary message
//
// Returns:
//   - Result: a Mutation or a ControlSignal
//   - error: ErrDecode wrapped with detail
func (d *Decoder) Decode(raw []byte) (Result, error) {
	if len(raw) == 0 {
		return Result{Control: &ControlSignal{Kind: ControlHeartbeat}}, nil
	}

	actionRaw, next, err := readFrame(raw, 0)
	if err != nil {
		return Result{}, fmt.Errorf("action frame: %w", err)
	}
	if actionRaw.Header.PacketType != PacketAction {
		return Result{}, fmt.Errorf("%w: first frame has packet type %d, want action", ErrDecode, actionRaw.Header.PacketType)
	}
	if actionRaw.Header.Format != FormatJSON {
		return Result{}, fmt.Errorf("%w: action frame format %s, want json", ErrDecode, actionRaw.Header.Format)
	}

	var action actionFrame
	if err := json.Unmarshal(actionRaw.Payload, &action); err != nil {
		return Result{}, fmt.Errorf("%w: action frame: %w", ErrDecode, err)
	}

	switch ControlKind(action.Action) {
	case ControlPing, ControlPong, ControlHeartbeat:
		return Result{Control: &ControlSignal{Kind: ControlKind(action.Action)}}, nil
	}

	if next >= len(raw) {
		return Result{}, fmt.Errorf("%w: missing data frame", ErrDecode)
	}
	dataRaw, end, err := readFrame(raw, next)
	if err != nil {
		return Result{}, fmt.Errorf("data frame: %w", err)
	}
	if dataRaw.Header.PacketType != PacketPayload {
		return Result{}, fmt.Errorf("%w: second frame has packet type %d, want payload", ErrDecode, dataRaw.Header.PacketType)
	}
	if end != len(raw) {
		return Result{}, fmt.Errorf("%w: %d trailing bytes after data frame", ErrDecode, len(raw)-end)
	}

	m, err := action.mutation()
	if err != nil {
		return Result{}, err
	}

	codec, ok := d.Codec(dataRaw.Header.Format)
	if !ok {
		return Result{}, fmt.Errorf("%w: unknown payload format %d", ErrDecode, dataRaw.Header.Format)
	}
	fields, err := codec.Decode(dataRaw.Payload)
	if err != nil {
		if !errors.Is(err, ErrDecode) {
			err = fmt.Errorf("%w: %w", ErrDecode, err)
		}
		return Result{}, err
	}
	if m.Op != entity.OpRemove {
		m.Fields = fields
	}

	return Result{
		Mutation:   m,
		Format:     dataRaw.Header.Format,
		Compressed: dataRaw.Header.Deflated,
	}, nil
}

func (a actionFrame) mutation() (*entity.Mutation, error) {
	op, err := entity.ParseOp(a.Action)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	model, err := entity.ParseModelType(a.ModelKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if a.ID == "" {
		return nil, fmt.Errorf("%w: action frame without id", ErrDecode)
	}
	return &entity.Mutation{
		ID:       a.ID,
		Model:    model,
		Op:       op,
		Revision: entity.Revision{UpdateID: a.NewUpdateID},
	}, nil
}
