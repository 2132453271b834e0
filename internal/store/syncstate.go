package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SyncState is one row of the sync-state ledger: the last successful sync
// marker for one entity type.
type SyncState struct {
	Key       string
	Value     string
	UpdatedAt int64 // epoch millis of the write
}

// GetSyncState returns the ledger entry for key, or nil when that entity
// type has never completed a sync.
func (s *Store) GetSyncState(ctx context.Context, key string) (*SyncState, error) {
	var entry SyncState
	err := s.db.QueryRowContext(ctx,
		"SELECT key, value, updated_at FROM sync_state WHERE key = ?", key).
		Scan(&entry.Key, &entry.Value, &entry.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sync state: %w", err)
	}
	return &entry, nil
}

// SetSyncState replaces the single ledger row for key. Only completed sync
// runs call this; cancelled and failed runs leave the ledger untouched.
func (s *Store) SetSyncState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write sync state: %w", err)
	}
	return nil
}
