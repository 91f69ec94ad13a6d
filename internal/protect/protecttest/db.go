package protecttest

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
	"github.com/nerrad567/gray-logic-nvr/migrations"
)

// OpenDB returns a migrated in-memory database closed at test cleanup.
func OpenDB(t testing.TB) *database.DB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := database.Open(ctx, database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Snapshot parses d into a validated snapshot.
func (d *Doc) Snapshot(t testing.TB) *entity.Snapshot {
	t.Helper()

	snap, err := entity.ParseBootstrap(d.JSON(), time.Now())
	if err != nil {
		t.Fatalf("parse bootstrap: %v", err)
	}
	if err := snap.Validate(); err != nil {
		t.Fatalf("validate bootstrap: %v", err)
	}
	return snap
}
