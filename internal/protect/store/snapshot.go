package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/entity"
)

// Snapshots stores one snapshot per NVR key in the protect_snapshot table.
type Snapshots struct {
	db  *sql.DB
	key string
}

// NewSnapshots creates a snapshot store for the NVR identified by key
// (normally its host).
//
// Returns:
//   - *Snapshots: store ready for use
//   - error: ErrNoKey when key is empty
func NewSnapshots(db *sql.DB, key string) (*Snapshots, error) {
	if key == "" {
		return nil, ErrNoKey
	}
	return &Snapshots{db: db, key: key}, nil
}

// Load returns the stored snapshot, or nil when none was saved.
func (s *Snapshots) Load(ctx context.Context) (*entity.Snapshot, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT body FROM protect_snapshot WHERE nvr = ?", s.key,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // absence is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}

	var snap entity.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if snap.Revision.UpdateID == "" {
		return nil, fmt.Errorf("%w: missing revision", ErrCorrupt)
	}
	if snap.Entities == nil {
		snap.Entities = make(map[string]*entity.Entity)
	}
	return &snap, nil
}

// Save replaces the stored snapshot.
func (s *Snapshots) Save(ctx context.Context, snap *entity.Snapshot) error {
	if snap == nil {
		return errors.New("store: nil snapshot")
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO protect_snapshot (nvr, update_id, seq, entities, body, fetched_at, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (nvr) DO UPDATE SET
			update_id  = excluded.update_id,
			seq        = excluded.seq,
			entities   = excluded.entities,
			body       = excluded.body,
			fetched_at = excluded.fetched_at,
			saved_at   = excluded.saved_at`,
		s.key,
		snap.Revision.UpdateID,
		int64(snap.Revision.Seq), //nolint:gosec // per-link counter, far below MaxInt64
		len(snap.Entities),
		string(body),
		snap.FetchedAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// Delete removes the stored snapshot, if any.
func (s *Snapshots) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM protect_snapshot WHERE nvr = ?", s.key); err != nil {
		return fmt.Errorf("deleting snapshot: %w", err)
	}
	return nil
}
