package model

import "time"

// EntityType identifies one of the synced collections.
type EntityType string

const (
	EntityTasks    EntityType = "tasks"
	EntityProjects EntityType = "projects"
	EntityContacts EntityType = "contacts"
	EntityTimeLogs EntityType = "time_logs"
)

// AllEntityTypes lists every synced collection in quick-sync order.
var AllEntityTypes = []EntityType{EntityTasks, EntityProjects, EntityContacts, EntityTimeLogs}

// Valid reports whether t names a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTasks, EntityProjects, EntityContacts, EntityTimeLogs:
		return true
	}
	return false
}

// SyncStatus tracks how a local row relates to the remote workspace.
type SyncStatus string

const (
	StatusSynced      SyncStatus = "synced"
	StatusLocalOnly   SyncStatus = "local-only"
	StatusPendingPush SyncStatus = "pending-push"
	StatusConflict    SyncStatus = "conflict"
)

// Fields is the entity-specific typed payload extracted from a remote record
// (or entered locally). Pointer fields are nil when the source property was
// missing or malformed.
type Fields struct {
	Title            string     `json:"title"`
	Status           string     `json:"status"`
	NormalizedStatus string     `json:"normalized_status"`
	Date             *time.Time `json:"date,omitempty"`
	DateEnd          *time.Time `json:"date_end,omitempty"`
	Urgent           bool       `json:"urgent"`
	Important        bool       `json:"important"`
	HardDeadline     bool       `json:"hard_deadline"`
	Note             string     `json:"note,omitempty"`
	SessionLength    *float64   `json:"session_length,omitempty"`
	Estimate         *float64   `json:"estimate,omitempty"`
	Order            *float64   `json:"order,omitempty"`
}

// Entity is the canonical local shape of a task, project, contact or time log.
//
// Invariant: RemoteID == nil implies SyncStatus == StatusLocalOnly, and a
// non-nil RemoteID implies one of synced/pending-push/conflict. ClientID is
// immutable once assigned; RemoteID transitions nil -> non-nil at most once.
type Entity struct {
	ClientID     string     `json:"client_id"`
	RemoteID     *string    `json:"remote_id,omitempty"`
	Fields       Fields     `json:"fields"`
	CreatedAt    time.Time  `json:"created_at"`
	LastEditedAt time.Time  `json:"last_edited_at"`
	SyncStatus   SyncStatus `json:"sync_status"`
	LocalOnly    bool       `json:"local_only"`
}
