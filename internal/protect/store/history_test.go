package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/protecttest"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/store"
)

func TestHealthHistory(t *testing.T) {
	db := protecttest.OpenDB(t)
	ctx := context.Background()
	h, err := store.NewHealthHistory(db.DB, "nvr")
	if err != nil {
		t.Fatalf("NewHealthHistory() error = %v", err)
	}

	now := time.Now()
	entries := []cache.Health{
		{State: cache.LinkConnecting, Stale: true, Since: now.Add(-3 * time.Hour)},
		{State: cache.LinkConnected, Since: now.Add(-2 * time.Minute)},
		{State: cache.LinkDegraded, Stale: true, Failures: 3, LastError: "bootstrap: 503", Since: now.Add(-time.Minute)},
	}
	for _, e := range entries {
		if err := h.Record(ctx, e, "rev-1"); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := h.History(ctx, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("History() = %d entries, want 3", len(got))
	}
	if got[0].State != cache.LinkDegraded || got[0].Failures != 3 || got[0].LastError != "bootstrap: 503" || !got[0].Stale {
		t.Errorf("newest entry = %+v", got[0])
	}
	if got[2].State != cache.LinkConnecting || got[2].UpdateID != "rev-1" {
		t.Errorf("oldest entry = %+v", got[2])
	}

	n, err := h.Prune(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() removed %d, want 1", n)
	}
	if _, err := h.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) accepted a non-positive retention")
	}

	got, _ = h.History(ctx, 1)
	if len(got) != 1 {
		t.Errorf("History(1) = %d entries, want 1", len(got))
	}
}

func TestHealthHistoryFollow(t *testing.T) {
	db := protecttest.OpenDB(t)
	h, _ := store.NewHealthHistory(db.DB, "nvr")

	c := cache.New()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Follow(context.Background(), c)
	}()

	// Follow subscribes before recording the current health, so once that
	// row exists no later transition can be missed.
	waitEntries(t, h, 1)

	c.SetHealth(cache.Health{State: cache.LinkResyncing, Stale: true})
	c.SetHealth(cache.Health{State: cache.LinkConnected})
	c.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Follow did not return after cache close")
	}

	got, err := h.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	var states []cache.LinkState
	for i := len(got) - 1; i >= 0; i-- {
		states = append(states, got[i].State)
	}
	want := []cache.LinkState{cache.LinkConnecting, cache.LinkResyncing, cache.LinkConnected, cache.LinkClosed}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

func waitEntries(t *testing.T, h *store.HealthHistory, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := h.History(context.Background(), n)
		if err == nil && len(got) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("history never reached %d entries", n)
}
