package protecttest

import (
	"encoding/json"
	"testing"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/wire"
)

// Doc is a bootstrap document under construction.
type Doc struct {
	UpdateID   string
	AuthUserID string
	NVR        map[string]any
	Lists      map[string][]map[string]any
}

// NewDoc returns a small consistent site: one NVR, two cameras, a sensor
// mounted on the first camera, and an admin user in one group.
func NewDoc(updateID string) *Doc {
	return &Doc{
		UpdateID:   updateID,
		AuthUserID: "user-1",
		NVR:        map[string]any{"id": "nvr-1", "name": "Home NVR", "version": "4.0.21"},
		Lists: map[string][]map[string]any{
			"cameras": {
				{"id": "cam-1", "name": "Front", "state": "CONNECTED", "isMotionDetected": false},
				{"id": "cam-2", "name": "Garage", "state": "CONNECTED", "isMotionDetected": false},
			},
			"sensors": {
				{"id": "sensor-1", "name": "Hall", "camera": "cam-1", "stats": map[string]any{
					"temperature": map[string]any{"value": 21.5},
				}},
			},
			"groups": {{"id": "group-1", "name": "Admins"}},
			"users":  {{"id": "user-1", "name": "admin", "groups": []any{"group-1"}}},
		},
	}
}

// Add appends an element to the named list, e.g. "cameras".
func (d *Doc) Add(list string, fields map[string]any) *Doc {
	d.Lists[list] = append(d.Lists[list], fields)
	return d
}

// JSON encodes the document.
func (d *Doc) JSON() []byte {
	doc := map[string]any{
		"lastUpdateId": d.UpdateID,
		"nvr":          d.NVR,
	}
	if d.AuthUserID != "" {
		doc["authUserId"] = d.AuthUserID
	}
	for k, v := range d.Lists {
		doc[k] = v
	}
	b, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return b
}

// Packet encodes m as a JSON update-channel message.
func Packet(t testing.TB, m *entity.Mutation) []byte {
	t.Helper()
	return PacketWith(t, m, wire.EncodeOptions{})
}

// PacketWith encodes m with the given options.
func PacketWith(t testing.TB, m *entity.Mutation, opts wire.EncodeOptions) []byte {
	t.Helper()
	b, err := wire.NewDecoder().Encode(m, opts)
	if err != nil {
		t.Fatalf("encode %s %s: %v", m.Op, m.ID, err)
	}
	return b
}

// Update builds an update mutation carrying fields.
func Update(model entity.ModelType, id, updateID string, fields map[string]any) *entity.Mutation {
	return &entity.Mutation{
		ID:       id,
		Model:    model,
		Op:       entity.OpUpdate,
		Fields:   fields,
		Revision: entity.Revision{UpdateID: updateID},
	}
}
