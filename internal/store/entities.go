package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/existflow/taskmirror/internal/model"
)

// tableFor maps an entity type to its table. Table names are never built
// from user input.
func tableFor(t model.EntityType) (string, error) {
	switch t {
	case model.EntityTasks:
		return "tasks", nil
	case model.EntityProjects:
		return "projects", nil
	case model.EntityContacts:
		return "contacts", nil
	case model.EntityTimeLogs:
		return "time_logs", nil
	}
	return "", fmt.Errorf("unknown entity type %q", t)
}

// Upsert inserts or replaces one entity, keyed on client_id, as a single
// atomic statement. On conflict the incoming remote values win: remote_id,
// payload, sync_status and last_modified_remote are overwritten, which also
// promotes a colliding local-only row to synced. created_at and
// last_modified_local of the existing row are preserved.
func (s *Store) Upsert(ctx context.Context, t model.EntityType, e model.Entity) error {
	table, err := tableFor(t)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	var remoteID sql.NullString
	if e.RemoteID != nil {
		remoteID = sql.NullString{String: *e.RemoteID, Valid: true}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	createdAt := now
	if !e.CreatedAt.IsZero() {
		createdAt = e.CreatedAt.UTC().Format(time.RFC3339)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (client_id, remote_id, payload, sync_status, last_modified_local, last_modified_remote, created_at, updated_at)
VALUES (?, ?, ?, ?, 0, ?, ?, ?)
ON CONFLICT(client_id) DO UPDATE SET
    remote_id = excluded.remote_id,
    payload = excluded.payload,
    sync_status = excluded.sync_status,
    last_modified_remote = excluded.last_modified_remote,
    updated_at = excluded.updated_at`, table)

	_, err = s.db.ExecContext(ctx, query,
		e.ClientID, remoteID, string(payload), string(e.SyncStatus),
		e.LastEditedAt.UnixMilli(), createdAt, now)
	if err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", table, err)
	}
	return nil
}

// CreateLocal creates a client-originated entity that has not been pushed to
// the remote workspace. It gets a generated client id, no remote id and
// local-only status.
func (s *Store) CreateLocal(ctx context.Context, t model.EntityType, fields model.Fields) (*model.Entity, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields: %w", err)
	}

	now := time.Now().UTC()
	e := &model.Entity{
		ClientID:   uuid.NewString(),
		Fields:     fields,
		CreatedAt:  now,
		SyncStatus: model.StatusLocalOnly,
		LocalOnly:  true,
	}

	query := fmt.Sprintf(`
INSERT INTO %s (client_id, remote_id, payload, sync_status, last_modified_local, last_modified_remote, created_at, updated_at)
VALUES (?, NULL, ?, ?, ?, 0, ?, ?)`, table)

	_, err = s.db.ExecContext(ctx, query,
		e.ClientID, string(payload), string(model.StatusLocalOnly),
		now.UnixMilli(), now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to create local %s record: %w", t, err)
	}
	return e, nil
}

// Get retrieves one entity by client id.
func (s *Store) Get(ctx context.Context, t model.EntityType, clientID string) (*model.Entity, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
SELECT client_id, remote_id, payload, sync_status, last_modified_remote, created_at, updated_at
FROM %s WHERE client_id = ?`, table)

	e, err := scanEntity(s.db.QueryRowContext(ctx, query, clientID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s record %q not found", t, clientID)
	}
	return e, err
}

// List returns all entities of one type, ordered by creation time.
func (s *Store) List(ctx context.Context, t model.EntityType) ([]model.Entity, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
SELECT client_id, remote_id, payload, sync_status, last_modified_remote, created_at, updated_at
FROM %s ORDER BY created_at ASC, client_id ASC`, table)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Count returns the number of rows for one entity type.
func (s *Store) Count(ctx context.Context, t model.EntityType) (int, error) {
	table, err := tableFor(t)
	if err != nil {
		return 0, err
	}

	var n int
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n)
	return n, err
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row scanner) (*model.Entity, error) {
	var (
		e          model.Entity
		remoteID   sql.NullString
		payload    string
		syncStatus string
		remoteMs   int64
		createdAt  string
		updatedAt  string
	)

	if err := row.Scan(&e.ClientID, &remoteID, &payload, &syncStatus, &remoteMs, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if remoteID.Valid {
		id := remoteID.String
		e.RemoteID = &id
	}
	if err := json.Unmarshal([]byte(payload), &e.Fields); err != nil {
		return nil, fmt.Errorf("corrupt payload for %s: %w", e.ClientID, err)
	}
	e.SyncStatus = model.SyncStatus(syncStatus)
	e.LocalOnly = e.SyncStatus == model.StatusLocalOnly
	if remoteMs > 0 {
		e.LastEditedAt = time.UnixMilli(remoteMs).UTC()
	}
	if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
		e.CreatedAt = ts
	}

	return &e, nil
}
