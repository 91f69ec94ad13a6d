package reconcile

import (
	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
)

// Event types that move a camera's "last" pointers.
const (
	eventMotion      = "motion"
	eventSmartDetect = "smartDetectZone"
	eventRing        = "ring"
)

// applyEventSideEffects mirrors a newly added event onto its camera: motion
// and smart detections set lastMotionEventId/lastMotion, rings set
// lastRingEventId/lastRing. Nothing happens when the camera is not cached.
//
// Returns the ids of entities changed.
func applyEventSideEffects(txn *cache.Txn, eventID string, model entity.ModelType, fields map[string]any) []string {
	if model != entity.ModelEvent {
		return nil
	}
	camID, _ := fields["camera"].(string)
	if camID == "" {
		return nil
	}
	cam, ok := txn.Lookup(camID)
	if !ok || cam.Model != entity.ModelCamera {
		return nil
	}

	var idField, timeField string
	switch fields["type"] {
	case eventMotion, eventSmartDetect:
		idField, timeField = "lastMotionEventId", "lastMotion"
	case eventRing:
		idField, timeField = "lastRingEventId", "lastRing"
	default:
		return nil
	}

	patch := map[string]any{idField: eventID}
	if start, ok := fields["start"]; ok && start != nil {
		patch[timeField] = start
	}

	next := cam.DeepCopy()
	if next.Fields == nil {
		next.Fields = make(map[string]any)
	}
	changed := entity.Merge(next.Fields, patch)
	if changed == nil {
		return nil
	}
	txn.Put(next)
	txn.Notify(cache.Notification{ID: camID, Model: entity.ModelCamera, Op: entity.OpUpdate, Changed: changed})
	return []string{camID}
}
