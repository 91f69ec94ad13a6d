package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-nvr/internal/protect/cache"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// HealthEntry is one recorded link health transition.
type HealthEntry struct {
	ID        int64           `json:"id"`
	State     cache.LinkState `json:"state"`
	Stale     bool            `json:"stale"`
	Failures  int             `json:"failures"`
	LastError string          `json:"last_error,omitempty"`
	UpdateID  string          `json:"update_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// HealthHistory stores link health transitions in protect_health_history.
type HealthHistory struct {
	db     *sql.DB
	key    string
	logger Logger
}

// NewHealthHistory creates a history for the NVR identified by key.
func NewHealthHistory(db *sql.DB, key string) (*HealthHistory, error) {
	if key == "" {
		return nil, ErrNoKey
	}
	return &HealthHistory{db: db, key: key, logger: noopLogger{}}, nil
}

// SetLogger sets the logger used by Follow.
func (h *HealthHistory) SetLogger(logger Logger) {
	h.logger = logger
}

// Record inserts one health entry.
func (h *HealthHistory) Record(ctx context.Context, health cache.Health, updateID string) error {
	at := health.Since
	if at.IsZero() {
		at = time.Now()
	}
	var lastErr sql.NullString
	if health.LastError != "" {
		lastErr = sql.NullString{String: health.LastError, Valid: true}
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO protect_health_history (nvr, state, stale, failures, last_error, update_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.key, string(health.State), health.Stale, health.Failures, lastErr, updateID,
		at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting health history: %w", err)
	}
	return nil
}

// History returns recent entries, newest first. limit defaults to 50 and is
// clamped to 500.
func (h *HealthHistory) History(ctx context.Context, limit int) ([]HealthEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, state, stale, failures, last_error, update_id, created_at
		FROM protect_health_history
		WHERE nvr = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		h.key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying health history: %w", err)
	}
	defer rows.Close()

	entries := make([]HealthEntry, 0, limit)
	for rows.Next() {
		var (
			e         HealthEntry
			state     string
			lastErr   sql.NullString
			updateID  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &state, &e.Stale, &e.Failures, &lastErr, &updateID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning health history: %w", err)
		}
		e.State = cache.LinkState(state)
		e.LastError = lastErr.String
		e.UpdateID = updateID.String
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating health history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan and returns how many went.
func (h *HealthHistory) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	res, err := h.db.ExecContext(ctx,
		"DELETE FROM protect_health_history WHERE nvr = ? AND created_at < ?", h.key, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting health history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// Follow records every health transition published by view until ctx is
// done or the cache is closed. The current health is recorded first.
func (h *HealthHistory) Follow(ctx context.Context, view cache.View) {
	sub := view.Subscribe()
	defer sub.Close()

	h.record(ctx, view.Health(), view.Revision().UpdateID)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			if n.Kind == cache.KindState && n.Health != nil {
				h.record(ctx, *n.Health, n.Revision.UpdateID)
			}
		}
	}
}

func (h *HealthHistory) record(ctx context.Context, health cache.Health, updateID string) {
	if err := h.Record(ctx, health, updateID); err != nil {
		h.logger.Warn("health history write failed", "state", health.State, "error", err)
		return
	}
	h.logger.Debug("health recorded", "state", health.State, "stale", health.Stale)
}
