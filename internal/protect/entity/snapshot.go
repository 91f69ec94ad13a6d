package entity

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Snapshot is the full entity graph produced by one bootstrap fetch.
type Snapshot struct {
	Entities   map[string]*Entity `json:"entities"`
	Revision   Revision           `json:"revision"`
	AuthUserID string             `json:"auth_user_id,omitempty"`
	FetchedAt  time.Time          `json:"fetched_at"`
}

// DeepCopy creates a complete independent copy of the Snapshot.
func (s *Snapshot) DeepCopy() *Snapshot {
	if s == nil {
		return nil
	}
	cpy := *s
	cpy.Entities = make(map[string]*Entity, len(s.Entities))
	for id, e := range s.Entities {
		cpy.Entities[id] = e.DeepCopy()
	}
	return &cpy
}

// Count returns the number of entities per model.
func (s *Snapshot) Count() map[ModelType]int {
	counts := make(map[ModelType]int)
	for _, e := range s.Entities {
		counts[e.Model]++
	}
	return counts
}

// bootstrapLists maps bootstrap document keys to the model of their elements.
var bootstrapLists = map[string]ModelType{
	"cameras":   ModelCamera,
	"users":     ModelUser,
	"groups":    ModelGroup,
	"liveviews": ModelLiveview,
	"viewers":   ModelViewer,
	"displays":  ModelDisplay,
	"lights":    ModelLight,
	"bridges":   ModelBridge,
	"sensors":   ModelSensor,
	"doorlocks": ModelDoorlock,
	"chimes":    ModelChime,
	"events":    ModelEvent,
}

// ParseBootstrap maps a bootstrap JSON document onto a Snapshot.
//
// The document must carry a lastUpdateId and an nvr object. Every element of
// a known list must have a string "id". Unknown top-level keys are ignored.
// The snapshot is not validated for referential completeness; call Validate.
//
// Parameters:
//   - raw: bootstrap response body
//   - fetchedAt: time the response was received
//
// Returns:
//   - *Snapshot: parsed snapshot with Revision.UpdateID set
//   - error: ErrMalformed wrapped with detail
func ParseBootstrap(raw []byte, fetchedAt time.Time) (*Snapshot, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	snap := &Snapshot{
		Entities:  make(map[string]*Entity),
		FetchedAt: fetchedAt,
	}

	if err := unmarshalString(doc, "lastUpdateId", &snap.Revision.UpdateID); err != nil {
		return nil, err
	}
	if snap.Revision.UpdateID == "" {
		return nil, fmt.Errorf("%w: missing lastUpdateId", ErrMalformed)
	}
	if _, ok := doc["authUserId"]; ok {
		if err := unmarshalString(doc, "authUserId", &snap.AuthUserID); err != nil {
			return nil, err
		}
	}

	nvrRaw, ok := doc["nvr"]
	if !ok {
		return nil, fmt.Errorf("%w: missing nvr", ErrMalformed)
	}
	var nvr map[string]any
	if err := json.Unmarshal(nvrRaw, &nvr); err != nil {
		return nil, fmt.Errorf("%w: nvr: %w", ErrMalformed, err)
	}
	if err := snap.add(ModelNVR, nvr); err != nil {
		return nil, err
	}

	for key, model := range bootstrapLists {
		listRaw, ok := doc[key]
		if !ok || string(listRaw) == "null" {
			continue
		}
		var list []map[string]any
		if err := json.Unmarshal(listRaw, &list); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, key, err)
		}
		for _, fields := range list {
			if err := snap.add(model, fields); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
		}
	}

	return snap, nil
}

func unmarshalString(doc map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := doc[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformed, key, err)
	}
	return nil
}

func (s *Snapshot) add(model ModelType, fields map[string]any) error {
	id, _ := fields["id"].(string)
	if id == "" {
		return fmt.Errorf("%w: %s without id", ErrMalformed, model)
	}
	if prev, dup := s.Entities[id]; dup {
		return fmt.Errorf("%w: duplicate id %s (%s and %s)", ErrMalformed, id, prev.Model, model)
	}
	s.Entities[id] = &Entity{ID: id, Model: model, Fields: fields}
	return nil
}

// Reference is one relationship edge from an entity field to another entity.
type Reference struct {
	From   string
	Field  string
	Target ModelType
	ID     string
}

// relation describes where a model stores references to another model.
// Path segments ending in "[]" iterate a list.
type relation struct {
	field  string
	target ModelType
}

var relations = map[ModelType][]relation{
	ModelLiveview: {{"owner", ModelUser}, {"slots[].cameras[]", ModelCamera}},
	ModelViewer:   {{"liveview", ModelLiveview}},
	ModelLight:    {{"camera", ModelCamera}},
	ModelSensor:   {{"camera", ModelCamera}},
	ModelDoorlock: {{"camera", ModelCamera}},
	ModelChime:    {{"cameraIds[]", ModelCamera}},
	ModelUser:     {{"groups[]", ModelGroup}},
	ModelEvent:    {{"camera", ModelCamera}},
}

// References returns the non-null relationship edges of e.
func References(e *Entity) []Reference {
	var refs []Reference
	for _, rel := range relations[e.Model] {
		for _, id := range collectIDs(e.Fields, strings.Split(rel.field, ".")) {
			refs = append(refs, Reference{From: e.ID, Field: rel.field, Target: rel.target, ID: id})
		}
	}
	return refs
}

func collectIDs(v any, path []string) []string {
	if len(path) == 0 {
		if s, ok := v.(string); ok && s != "" {
			return []string{s}
		}
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	seg := path[0]
	name, isList := strings.CutSuffix(seg, "[]")
	next, ok := m[name]
	if !ok || next == nil {
		return nil
	}
	if !isList {
		return collectIDs(next, path[1:])
	}
	list, ok := next.([]any)
	if !ok {
		return nil
	}
	var ids []string
	for _, elem := range list {
		if len(path) == 1 {
			if s, ok := elem.(string); ok && s != "" {
				ids = append(ids, s)
			}
			continue
		}
		ids = append(ids, collectIDs(elem, path[1:])...)
	}
	return ids
}

// maxReportedMissing caps how many dangling references an error lists.
const maxReportedMissing = 5

// Validate checks referential completeness: every relationship field must
// name an entity of the expected model present in the snapshot.
func (s *Snapshot) Validate() error {
	var missing []string
	for _, e := range s.Entities {
		for _, ref := range References(e) {
			target, ok := s.Entities[ref.ID]
			if ok && target.Model == ref.Target {
				continue
			}
			missing = append(missing, fmt.Sprintf("%s %s.%s -> %s %s", e.Model, ref.From, ref.Field, ref.Target, ref.ID))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	total := len(missing)
	if total > maxReportedMissing {
		missing = missing[:maxReportedMissing]
	}
	return fmt.Errorf("%w: %d dangling reference(s): %s", ErrIncomplete, total, strings.Join(missing, "; "))
}
