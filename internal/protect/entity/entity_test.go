package entity

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

const testBootstrap = `{
  "authUserId": "user-1",
  "accessKey": "secret",
  "lastUpdateId": "rev-100",
  "nvr": {"id": "nvr-1", "name": "Home NVR", "version": "1.21.0"},
  "cameras": [
    {"id": "cam-1", "name": "Front", "isConnected": true, "stats": {"rxBytes": 10, "wifi": {"signalStrength": -60}}},
    {"id": "cam-2", "name": "Garage", "isConnected": false}
  ],
  "users": [{"id": "user-1", "name": "admin", "groups": ["grp-1"]}],
  "groups": [{"id": "grp-1", "name": "Admins"}],
  "liveviews": [{"id": "lv-1", "owner": "user-1", "slots": [{"cameras": ["cam-1", "cam-2"]}]}],
  "viewers": [{"id": "view-1", "liveview": "lv-1"}],
  "lights": [{"id": "light-1", "camera": null}],
  "sensors": [{"id": "sensor-1", "camera": "cam-2"}],
  "bridges": [],
  "doorlocks": null
}`

func TestParseBootstrap(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snap, err := ParseBootstrap([]byte(testBootstrap), at)
	if err != nil {
		t.Fatalf("ParseBootstrap() error = %v", err)
	}

	if snap.Revision.UpdateID != "rev-100" {
		t.Errorf("Revision.UpdateID = %q, want %q", snap.Revision.UpdateID, "rev-100")
	}
	if snap.AuthUserID != "user-1" {
		t.Errorf("AuthUserID = %q, want %q", snap.AuthUserID, "user-1")
	}
	if !snap.FetchedAt.Equal(at) {
		t.Errorf("FetchedAt = %v, want %v", snap.FetchedAt, at)
	}
	if len(snap.Entities) != 9 {
		t.Errorf("len(Entities) = %d, want 9", len(snap.Entities))
	}

	counts := snap.Count()
	if counts[ModelCamera] != 2 {
		t.Errorf("camera count = %d, want 2", counts[ModelCamera])
	}
	if counts[ModelNVR] != 1 {
		t.Errorf("nvr count = %d, want 1", counts[ModelNVR])
	}

	cam := snap.Entities["cam-1"]
	if cam.Model != ModelCamera {
		t.Errorf("cam-1 model = %q, want camera", cam.Model)
	}
	if got := cam.String("name"); got != "Front" {
		t.Errorf("cam-1 name = %q, want Front", got)
	}
	if v, ok := Lookup(cam.Fields, "stats.wifi.signalStrength"); !ok || v != float64(-60) {
		t.Errorf("Lookup(stats.wifi.signalStrength) = %v, %v; want -60, true", v, ok)
	}

	if err := snap.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestParseBootstrapMalformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{`},
		{"missing revision", `{"nvr": {"id": "nvr-1"}}`},
		{"missing nvr", `{"lastUpdateId": "r"}`},
		{"nvr without id", `{"lastUpdateId": "r", "nvr": {}}`},
		{"camera without id", `{"lastUpdateId": "r", "nvr": {"id": "n"}, "cameras": [{"name": "x"}]}`},
		{"list is object", `{"lastUpdateId": "r", "nvr": {"id": "n"}, "cameras": {"id": "x"}}`},
		{"duplicate id", `{"lastUpdateId": "r", "nvr": {"id": "n"}, "cameras": [{"id": "n"}]}`},
		{"revision not string", `{"lastUpdateId": 7, "nvr": {"id": "n"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBootstrap([]byte(tt.doc), time.Now())
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("ParseBootstrap() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestSnapshotValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Snapshot)
		wantErr bool
		wantMsg string
	}{
		{
			name:   "complete",
			mutate: func(_ *Snapshot) {},
		},
		{
			name: "liveview slot camera missing",
			mutate: func(s *Snapshot) {
				delete(s.Entities, "cam-2")
				delete(s.Entities, "sensor-1")
			},
			wantErr: true,
			wantMsg: "lv-1.slots[].cameras[] -> camera cam-2",
		},
		{
			name: "viewer liveview missing",
			mutate: func(s *Snapshot) {
				delete(s.Entities, "lv-1")
			},
			wantErr: true,
			wantMsg: "view-1.liveview",
		},
		{
			name: "user group missing",
			mutate: func(s *Snapshot) {
				delete(s.Entities, "grp-1")
			},
			wantErr: true,
			wantMsg: "user-1.groups[]",
		},
		{
			name: "reference to wrong model",
			mutate: func(s *Snapshot) {
				s.Entities["sensor-1"].Fields["camera"] = "user-1"
			},
			wantErr: true,
			wantMsg: "sensor-1.camera",
		},
		{
			name: "null reference allowed",
			mutate: func(s *Snapshot) {
				s.Entities["sensor-1"].Fields["camera"] = nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := ParseBootstrap([]byte(testBootstrap), time.Now())
			if err != nil {
				t.Fatalf("ParseBootstrap() error = %v", err)
			}
			tt.mutate(snap)

			err = snap.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrIncomplete) {
					t.Fatalf("Validate() error = %v, want ErrIncomplete", err)
				}
				if !strings.Contains(err.Error(), tt.wantMsg) {
					t.Errorf("Validate() error = %q, want it to mention %q", err, tt.wantMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	dst := map[string]any{
		"name":  "Front",
		"state": "CONNECTED",
		"stats": map[string]any{"rxBytes": float64(1), "txBytes": float64(2)},
	}
	patch := map[string]any{
		"name":   "Porch",
		"state":  "CONNECTED",
		"stats":  map[string]any{"rxBytes": float64(5)},
		"isDark": true,
	}

	changed := Merge(dst, patch)

	want := map[string]any{
		"name":   "Porch",
		"state":  "CONNECTED",
		"stats":  map[string]any{"rxBytes": float64(5), "txBytes": float64(2)},
		"isDark": true,
	}
	if !reflect.DeepEqual(dst, want) {
		t.Errorf("merged = %v, want %v", dst, want)
	}

	wantChanged := map[string]any{
		"name":   "Porch",
		"stats":  map[string]any{"rxBytes": float64(5)},
		"isDark": true,
	}
	if !reflect.DeepEqual(changed, wantChanged) {
		t.Errorf("changed = %v, want %v", changed, wantChanged)
	}
}

func TestMergeNoChange(t *testing.T) {
	dst := map[string]any{"name": "Front", "stats": map[string]any{"rxBytes": float64(1)}}
	if changed := Merge(dst, map[string]any{"name": "Front", "stats": map[string]any{"rxBytes": float64(1)}}); changed != nil {
		t.Errorf("Merge() changed = %v, want nil", changed)
	}
}

func TestMergeDoesNotAliasPatch(t *testing.T) {
	dst := map[string]any{}
	patch := map[string]any{"slots": []any{"a"}}
	Merge(dst, patch)

	patch["slots"].([]any)[0] = "b"
	if got := dst["slots"].([]any)[0]; got != "a" {
		t.Errorf("dst slot = %v, want a (patch was aliased)", got)
	}
}

func TestEntityDeepCopy(t *testing.T) {
	orig := &Entity{
		ID:     "cam-1",
		Model:  ModelCamera,
		Fields: map[string]any{"stats": map[string]any{"rxBytes": float64(1)}, "tags": []any{"x"}},
	}
	cpy := orig.DeepCopy()

	cpy.Fields["stats"].(map[string]any)["rxBytes"] = float64(99)
	cpy.Fields["tags"].([]any)[0] = "y"

	if v, _ := Lookup(orig.Fields, "stats.rxBytes"); v != float64(1) {
		t.Errorf("original rxBytes = %v, want 1", v)
	}
	if orig.Fields["tags"].([]any)[0] != "x" {
		t.Errorf("original tags mutated through copy")
	}

	var nilEntity *Entity
	if nilEntity.DeepCopy() != nil {
		t.Error("DeepCopy(nil) should be nil")
	}
}

func TestParseModelTypeAndOp(t *testing.T) {
	if _, err := ParseModelType("camera"); err != nil {
		t.Errorf("ParseModelType(camera) error = %v", err)
	}
	if _, err := ParseModelType("toaster"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("ParseModelType(toaster) error = %v, want ErrUnknownModel", err)
	}
	if op, err := ParseOp("update"); err != nil || op != OpUpdate {
		t.Errorf("ParseOp(update) = %v, %v", op, err)
	}
	if _, err := ParseOp("upsert"); !errors.Is(err, ErrUnknownOp) {
		t.Errorf("ParseOp(upsert) error = %v, want ErrUnknownOp", err)
	}
}

func TestSetPathAndFlatten(t *testing.T) {
	m := map[string]any{}
	SetPath(m, "stats.temperature.value", 21.5)
	SetPath(m, "batteryStatus.percentage", float64(80))

	flat := Flatten(m)
	want := map[string]any{
		"stats.temperature.value":  21.5,
		"batteryStatus.percentage": float64(80),
	}
	if !reflect.DeepEqual(flat, want) {
		t.Errorf("Flatten() = %v, want %v", flat, want)
	}
}
