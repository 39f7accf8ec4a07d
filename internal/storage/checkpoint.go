package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sheetsync/internal/domain"
)

// CheckpointStore persists the change poller's position per synced table.
type CheckpointStore struct {
	db *DB
}

// NewCheckpointStore creates a new CheckpointStore.
func NewCheckpointStore(db *DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Load returns the saved checkpoint, or a cold-start one (zero time, count -1)
// when none has been saved yet.
func (s *CheckpointStore) Load(ctx context.Context, name string) (domain.Checkpoint, error) {
	var pushedMs int64
	var count int
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT last_successful_push, last_known_count FROM poll_checkpoints WHERE name = ?`, name,
	).Scan(&pushedMs, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Checkpoint{LastKnownCount: -1}, nil
	}
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}

	cp := domain.Checkpoint{LastKnownCount: count}
	if pushedMs > 0 {
		cp.LastSuccessfulPush = time.UnixMilli(pushedMs)
	}
	return cp, nil
}

// Save upserts the checkpoint.
func (s *CheckpointStore) Save(ctx context.Context, name string, cp domain.Checkpoint) error {
	var pushedMs int64
	if !cp.LastSuccessfulPush.IsZero() {
		pushedMs = cp.LastSuccessfulPush.UnixMilli()
	}
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO poll_checkpoints (name, last_successful_push, last_known_count, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		   last_successful_push = excluded.last_successful_push,
		   last_known_count = excluded.last_known_count,
		   updated_at = excluded.updated_at`,
		name, pushedMs, cp.LastKnownCount, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// ── Push log ───────────────────────────────────────────────

// RecordPush appends one outbound push attempt.
func (s *CheckpointStore) RecordPush(ctx context.Context, name string, a domain.PushAttempt) error {
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO push_log (name, started_at, updates, valid_ids, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		name, a.StartedAt.UnixMilli(), a.Updates, a.ValidIDs, a.DurationMs, a.Error,
	)
	if err != nil {
		return fmt.Errorf("record push: %w", err)
	}
	return nil
}

// RecentPushes returns the newest push attempts first.
func (s *CheckpointStore) RecentPushes(ctx context.Context, name string, limit int) ([]domain.PushAttempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT id, started_at, updates, valid_ids, duration_ms, error
		 FROM push_log WHERE name = ? ORDER BY id DESC LIMIT ?`,
		name, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PushAttempt
	for rows.Next() {
		var a domain.PushAttempt
		var startedMs int64
		if err := rows.Scan(&a.ID, &startedMs, &a.Updates, &a.ValidIDs, &a.DurationMs, &a.Error); err != nil {
			return nil, err
		}
		a.StartedAt = time.UnixMilli(startedMs)
		out = append(out, a)
	}
	return out, rows.Err()
}

// PrunePushes keeps only the newest keep entries for name.
func (s *CheckpointStore) PrunePushes(ctx context.Context, name string, keep int) error {
	_, err := s.db.conn.ExecContext(ctx,
		`DELETE FROM push_log WHERE name = ? AND id NOT IN (
		   SELECT id FROM push_log WHERE name = ? ORDER BY id DESC LIMIT ?)`,
		name, name, keep,
	)
	return err
}
