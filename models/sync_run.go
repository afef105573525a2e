package models

import "time"

const (
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusPartial = "partial"
	SyncRunStatusFailed  = "failed"
)

// SyncRun is the durable audit record of one reconciliation session. The
// in-memory session registry is a latency optimization; status queries fall
// back to this table once the session has been evicted.
type SyncRun struct {
	ID             uint       `gorm:"primaryKey;autoIncrement;column:run_id" json:"run_id"`
	SessionID      string     `gorm:"column:session_id;type:char(36);uniqueIndex;not null" json:"session_id"`
	Scope          string     `gorm:"column:scope;type:varchar(64);not null" json:"scope"`
	TriggerSource  string     `gorm:"column:trigger_source;type:varchar(64);not null" json:"trigger_source"`
	Status         string     `gorm:"column:status;type:enum('running','success','partial','failed');not null;default:'running'" json:"status"`
	ProcessedCount uint       `gorm:"column:processed_count;not null;default:0" json:"processed_count"`
	SyncedCount    uint       `gorm:"column:synced_count;not null;default:0" json:"synced_count"`
	OutOfSyncCount uint       `gorm:"column:out_of_sync_count;not null;default:0" json:"out_of_sync_count"`
	ErrorCount     uint       `gorm:"column:error_count;not null;default:0" json:"error_count"`
	ErrorsJSON     *string    `gorm:"column:errors_json;type:longtext" json:"-"`
	ErrorMessage   *string    `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	StartedAt      time.Time  `gorm:"column:started_at;autoCreateTime" json:"started_at"`
	FinishedAt     *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
	Duration       *float64   `gorm:"column:duration_seconds" json:"duration_seconds,omitempty"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (SyncRun) TableName() string { return "sync_runs" }
