package cache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
)

func testSnapshot() *entity.Snapshot {
	return &entity.Snapshot{
		Entities: map[string]*entity.Entity{
			"nvr-1": {ID: "nvr-1", Model: entity.ModelNVR, Fields: map[string]any{"id": "nvr-1"}},
			"cam-1": {ID: "cam-1", Model: entity.ModelCamera, Fields: map[string]any{"id": "cam-1", "name": "Front"}},
			"cam-2": {ID: "cam-2", Model: entity.ModelCamera, Fields: map[string]any{"id": "cam-2", "name": "Garage"}},
		},
		Revision:  entity.Revision{UpdateID: "rev-1"},
		FetchedAt: time.Now(),
	}
}

func recv(t *testing.T, sub *Subscription) Notification {
	t.Helper()
	select {
	case n, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return n
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
	return Notification{}
}

func TestInstallAndRead(t *testing.T) {
	c := New()
	sub := c.Subscribe()
	defer sub.Close()

	c.Install(testSnapshot())

	n := recv(t, sub)
	if n.Kind != KindReset {
		t.Fatalf("Kind = %v, want reset", n.Kind)
	}
	if n.Count != 3 {
		t.Errorf("Count = %d, want 3", n.Count)
	}
	if n.Revision.UpdateID != "rev-1" {
		t.Errorf("Revision = %q, want rev-1", n.Revision.UpdateID)
	}

	cam, err := c.Get("cam-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cam.String("name") != "Front" {
		t.Errorf("name = %q, want Front", cam.String("name"))
	}
	if cam.Modified != c.Generation() {
		t.Errorf("Modified = %d, want %d", cam.Modified, c.Generation())
	}

	if _, err := c.Get("missing"); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	cams := c.List(entity.ModelCamera)
	if len(cams) != 2 || cams[0].ID != "cam-1" || cams[1].ID != "cam-2" {
		t.Errorf("List(camera) = %v, want [cam-1 cam-2]", cams)
	}
	if all := c.List(""); len(all) != 3 {
		t.Errorf("List(\"\") len = %d, want 3", len(all))
	}
}

func TestReadsAreCopies(t *testing.T) {
	c := New()
	c.Install(testSnapshot())

	cam, _ := c.Get("cam-1")
	cam.Fields["name"] = "Hacked"

	snap := c.Snapshot()
	snap.Entities["cam-1"].Fields["name"] = "Hacked"

	again, _ := c.Get("cam-1")
	if again.String("name") != "Front" {
		t.Errorf("name = %q, cache was mutated through a copy", again.String("name"))
	}
}

func TestTxnCommitIsAtomic(t *testing.T) {
	c := New()
	c.Install(testSnapshot())
	before := c.Generation()

	txn := c.Begin()
	txn.Put(&entity.Entity{ID: "cam-3", Model: entity.ModelCamera, Fields: map[string]any{"name": "Side"}})
	txn.Delete("cam-2")
	txn.SetRevision(entity.Revision{UpdateID: "rev-2", Seq: 1})

	if _, err := c.Get("cam-3"); !errors.Is(err, entity.ErrNotFound) {
		t.Error("staged put visible before commit")
	}
	if _, err := c.Get("cam-2"); err != nil {
		t.Error("staged delete visible before commit")
	}
	if _, ok := txn.Lookup("cam-3"); !ok {
		t.Error("Lookup() does not see staged put")
	}

	gen := txn.Commit()
	if gen != before+1 {
		t.Errorf("Commit() = %d, want %d", gen, before+1)
	}
	if _, err := c.Get("cam-3"); err != nil {
		t.Errorf("Get(cam-3) after commit error = %v", err)
	}
	if _, err := c.Get("cam-2"); !errors.Is(err, entity.ErrNotFound) {
		t.Error("cam-2 still present after commit")
	}
	if got := c.Revision(); got.UpdateID != "rev-2" || got.Seq != 1 {
		t.Errorf("Revision() = %+v, want rev-2/1", got)
	}
}

func TestDiscardedTxnLeavesCacheUntouched(t *testing.T) {
	c := New()
	c.Install(testSnapshot())
	before := c.Generation()

	txn := c.Begin()
	txn.Delete("cam-1")
	txn.SetRevision(entity.Revision{UpdateID: "rev-9"})
	// not committed

	if c.Generation() != before {
		t.Errorf("Generation() = %d, want %d", c.Generation(), before)
	}
	if _, err := c.Get("cam-1"); err != nil {
		t.Errorf("Get(cam-1) error = %v", err)
	}
	if c.Revision().UpdateID != "rev-1" {
		t.Errorf("Revision() = %q, want rev-1", c.Revision().UpdateID)
	}
}

func TestNotificationAfterVisibility(t *testing.T) {
	c := New()
	c.Install(testSnapshot())
	sub := c.Subscribe()
	defer sub.Close()

	txn := c.Begin()
	txn.Put(&entity.Entity{ID: "cam-1", Model: entity.ModelCamera, Fields: map[string]any{"name": "Porch"}})
	txn.Notify(Notification{ID: "cam-1", Model: entity.ModelCamera, Op: entity.OpUpdate, Changed: map[string]any{"name": "Porch"}})
	txn.Commit()

	n := recv(t, sub)
	if n.Kind != KindMutation || n.ID != "cam-1" || n.Op != entity.OpUpdate {
		t.Fatalf("notification = %+v", n)
	}
	cam, _ := c.Get("cam-1")
	if cam.String("name") != "Porch" {
		t.Errorf("Get after notification name = %q, want Porch", cam.String("name"))
	}
	if n.Generation != cam.Modified {
		t.Errorf("Generation = %d, Modified = %d; want equal", n.Generation, cam.Modified)
	}
}

func TestSlowSubscriberDropsAreCounted(t *testing.T) {
	c := New(WithSubscriberBuffer(2))
	c.Install(testSnapshot())
	sub := c.Subscribe()
	defer sub.Close()

	for i := range 5 {
		txn := c.Begin()
		txn.Notify(Notification{ID: "cam-1", Op: entity.OpUpdate, Changed: map[string]any{"i": float64(i)}})
		txn.Commit()
	}

	if sub.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", sub.Dropped())
	}

	recv(t, sub)
	recv(t, sub)

	txn := c.Begin()
	txn.Notify(Notification{ID: "cam-1", Op: entity.OpUpdate})
	txn.Commit()

	n := recv(t, sub)
	if n.Dropped != 3 {
		t.Errorf("Notification.Dropped = %d, want 3", n.Dropped)
	}
}

func TestSetHealthPublishesChangesOnly(t *testing.T) {
	c := New()
	sub := c.Subscribe()
	defer sub.Close()

	c.SetHealth(Health{State: LinkResyncing, Stale: true})
	c.SetHealth(Health{State: LinkResyncing, Stale: true})
	c.SetHealth(Health{State: LinkConnected})

	first := recv(t, sub)
	if first.Kind != KindState || first.Health.State != LinkResyncing {
		t.Fatalf("first = %+v, want resyncing state", first)
	}
	second := recv(t, sub)
	if second.Health.State != LinkConnected {
		t.Errorf("second state = %v, want connected", second.Health.State)
	}

	select {
	case n := <-sub.C():
		t.Errorf("unexpected extra notification %+v", n)
	default:
	}

	if h := c.Health(); h.Degraded() {
		t.Errorf("Health() = %+v, want not degraded", h)
	}
}

func TestCloseKeepsData(t *testing.T) {
	c := New()
	c.Install(testSnapshot())
	sub := c.Subscribe()

	c.Close()

	for n := range sub.C() {
		if n.Kind == KindState && n.Health.State != LinkClosed {
			t.Errorf("state = %v, want closed", n.Health.State)
		}
	}

	if c.Len() != 3 {
		t.Errorf("Len() after Close = %d, want 3", c.Len())
	}
	if c.Health().State != LinkClosed {
		t.Errorf("Health().State = %v, want closed", c.Health().State)
	}

	late := c.Subscribe()
	if _, ok := <-late.C(); ok {
		t.Error("subscription after Close should be closed")
	}

	sub.Close()
	c.Close()
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	c := New()
	c.Install(testSnapshot())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := c.Snapshot()
				// Both cameras always move together.
				a := snap.Entities["cam-1"].Fields["n"]
				b := snap.Entities["cam-2"].Fields["n"]
				if a != b {
					t.Errorf("torn read: cam-1 n=%v cam-2 n=%v", a, b)
					return
				}
			}
		}()
	}

	for i := range 200 {
		txn := c.Begin()
		for _, id := range []string{"cam-1", "cam-2"} {
			cur, _ := txn.Lookup(id)
			next := cur.DeepCopy()
			next.Fields["n"] = float64(i)
			txn.Put(next)
		}
		txn.Commit()
	}
	close(stop)
	wg.Wait()
}
