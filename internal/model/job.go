package model

import "time"

// JobStatus is the state of an import job for one entity type.
type JobStatus string

const (
	JobIdle      JobStatus = "idle"
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
	JobError     JobStatus = "error"
)

// Terminal reports whether the status is one a job can rest in before being
// reset to idle.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled || s == JobError
}

// Result summarizes one completed sync run.
type Result struct {
	Synced int `json:"synced"`
	Errors int `json:"errors"`
}

// JobSnapshot is the published view of one import job. It is a value copy;
// subscribers can hold it without racing the engine.
type JobSnapshot struct {
	Type      EntityType `json:"type"`
	Status    JobStatus  `json:"status"`
	StartedAt time.Time  `json:"started_at,omitempty"`
	Result    *Result    `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// QueueStatus is the full job-table view handed to observers.
type QueueStatus struct {
	All     []JobSnapshot `json:"all"`
	Current EntityType    `json:"current,omitempty"`
}
