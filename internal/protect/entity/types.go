package entity

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ModelType is the NVR's model key for an entity ("camera", "sensor", ...).
type ModelType string

// Model keys sent by the NVR in bootstrap documents and action frames.
const (
	ModelCamera        ModelType = "camera"
	ModelCloudIdentity ModelType = "cloudIdentity"
	ModelEvent         ModelType = "event"
	ModelGroup         ModelType = "group"
	ModelLight         ModelType = "light"
	ModelLiveview      ModelType = "liveview"
	ModelNVR           ModelType = "nvr"
	ModelUser          ModelType = "user"
	ModelUserLocation  ModelType = "userLocation"
	ModelViewer        ModelType = "viewer"
	ModelDisplay       ModelType = "display"
	ModelBridge        ModelType = "bridge"
	ModelSensor        ModelType = "sensor"
	ModelDoorlock      ModelType = "doorlock"
	ModelChime         ModelType = "chime"
)

// AllModels lists every model key the client understands.
var AllModels = []ModelType{
	ModelCamera, ModelCloudIdentity, ModelEvent, ModelGroup, ModelLight,
	ModelLiveview, ModelNVR, ModelUser, ModelUserLocation, ModelViewer,
	ModelDisplay, ModelBridge, ModelSensor, ModelDoorlock, ModelChime,
}

var knownModels = func() map[ModelType]bool {
	m := make(map[ModelType]bool, len(AllModels))
	for _, mt := range AllModels {
		m[mt] = true
	}
	return m
}()

// ParseModelType validates a model key.
func ParseModelType(s string) (ModelType, error) {
	mt := ModelType(s)
	if !knownModels[mt] {
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, s)
	}
	return mt, nil
}

// Op is the kind of change a Mutation applies.
type Op string

// Mutation operations, spelled as the NVR spells them in action frames.
const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
)

// ParseOp validates an action string.
func ParseOp(s string) (Op, error) {
	switch Op(s) {
	case OpAdd, OpUpdate, OpRemove:
		return Op(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOp, s)
	}
}

// Entity is one managed NVR object.
//
// Fields holds the raw JSON field map as decoded (numbers are float64).
// Modified is the cache generation of the last write and never decreases.
type Entity struct {
	ID       string         `json:"id"`
	Model    ModelType      `json:"model"`
	Fields   map[string]any `json:"fields"`
	Modified uint64         `json:"modified"`
}

// DeepCopy creates a complete independent copy of the Entity.
func (e *Entity) DeepCopy() *Entity {
	if e == nil {
		return nil
	}
	cpy := *e
	cpy.Fields = DeepCopyMap(e.Fields)
	return &cpy
}

// String returns the field at a dotted path as a string, or "" when absent.
func (e *Entity) String(path string) string {
	v, _ := Lookup(e.Fields, path)
	s, _ := v.(string)
	return s
}

// Revision orders snapshots and mutations.
//
// UpdateID is the NVR's opaque update id (lastUpdateId on a snapshot,
// newUpdateId on a mutation). Seq is the client-side position of a mutation
// on the current link; zero means "not sequenced" and skips gap checks.
type Revision struct {
	UpdateID string `json:"update_id"`
	Seq      uint64 `json:"seq"`
}

// IsZero reports whether the revision carries no ordering information.
func (r Revision) IsZero() bool {
	return r.UpdateID == "" && r.Seq == 0
}

// Mutation is one decoded change from the push channel.
type Mutation struct {
	ID       string
	Model    ModelType
	Op       Op
	Fields   map[string]any
	Revision Revision
}

// Keys returns the sorted top-level field names carried by the mutation.
func (m *Mutation) Keys() []string {
	keys := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DeepCopyMap recursively copies a JSON-shaped map.
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return DeepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}

// Merge applies patch onto dst and returns the subset of patch that actually
// changed dst. Nested maps merge recursively; every other value replaces.
// Keys absent from patch are never removed. The returned map is nil when
// nothing changed.
//
// dst is modified in place, so callers pass a copy they own.
func Merge(dst, patch map[string]any) map[string]any {
	var changed map[string]any
	for k, pv := range patch {
		cur, exists := dst[k]
		if pm, ok := pv.(map[string]any); ok {
			if cm, ok := cur.(map[string]any); ok && exists {
				if sub := Merge(cm, pm); sub != nil {
					if changed == nil {
						changed = make(map[string]any)
					}
					changed[k] = sub
				}
				continue
			}
		}
		if exists && reflect.DeepEqual(cur, pv) {
			continue
		}
		dst[k] = deepCopyValue(pv)
		if changed == nil {
			changed = make(map[string]any)
		}
		changed[k] = deepCopyValue(pv)
	}
	return changed
}

// Lookup returns the value at a dotted path such as "stats.wifi.signalStrength".
func Lookup(m map[string]any, path string) (any, bool) {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = mm[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetPath stores v at a dotted path, creating intermediate maps.
func SetPath(m map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

// Flatten returns every leaf of m keyed by its dotted path.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", m)
	return out
}

func flattenInto(out map[string]any, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok && len(sub) > 0 {
			flattenInto(out, key, sub)
			continue
		}
		out[key] = v
	}
}
