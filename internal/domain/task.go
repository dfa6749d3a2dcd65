package domain

import "time"

const (
	TaskKindCSVImport  = "csv_import"
	TaskKindBulkDelete = "bulk_delete"
)

const (
	TaskStatusQueued    = "queued"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// Task records the outcome of a background operation so callers can poll it
// after the triggering request has already returned.
type Task struct {
	ID              string     `gorm:"primaryKey;size:64" json:"id"`
	Kind            string     `gorm:"size:32;not null" json:"kind"`
	Status          string     `gorm:"size:32;index;not null" json:"status"`
	Detail          string     `gorm:"size:512" json:"detail,omitempty"`
	RecordsAffected int        `gorm:"not null;default:0" json:"records_affected"`
	CreatedBy       uint       `gorm:"index;not null" json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}
