package store

import "fmt"

// migrate runs all database migrations. Every statement is idempotent, so
// migrate is safe to run on every open.
func (s *Store) migrate() error {
	migrations := []string{
		entityTableSQL("tasks"),
		entityTableSQL("projects"),
		entityTableSQL("contacts"),
		entityTableSQL("time_logs"),
		migrationCreateSyncState,
	}

	for i, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}

// entityTableSQL builds the shared per-entity schema. All four entity tables
// are identical: the typed field payload lives in a JSON column, keyed by the
// stable client id, with sync bookkeeping alongside.
func entityTableSQL(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    client_id TEXT PRIMARY KEY,
    remote_id TEXT UNIQUE,
    payload TEXT NOT NULL,
    sync_status TEXT NOT NULL DEFAULT 'synced',
    last_modified_local INTEGER NOT NULL DEFAULT 0,
    last_modified_remote INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_remote ON %[1]s(remote_id);
CREATE INDEX IF NOT EXISTS idx_%[1]s_status ON %[1]s(sync_status);
`, table)
}

const migrationCreateSyncState = `
CREATE TABLE IF NOT EXISTS sync_state (
    key TEXT PRIMARY KEY,
    value TEXT,
    updated_at INTEGER NOT NULL DEFAULT 0
);
`
