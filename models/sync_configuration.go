package models

import "time"

// SyncConfiguration is one tracked (fault type, academic level) pair and the
// upstream poll that holds its authoritative records. Static reference data
// consulted by the reconciliation service.
type SyncConfiguration struct {
	ID             uint          `gorm:"primaryKey;autoIncrement;column:config_id" json:"config_id"`
	FaultType      FaultType     `gorm:"column:fault_type;type:enum('minor','major','severe');not null;uniqueIndex:idx_sync_pair" json:"fault_type"`
	AcademicLevel  AcademicLevel `gorm:"column:academic_level;type:varchar(16);not null;uniqueIndex:idx_sync_pair" json:"academic_level"`
	ExternalPollID int64         `gorm:"column:external_poll_id;not null" json:"external_poll_id"`
	AcademicYearID uint          `gorm:"column:academic_year_id;index;not null;uniqueIndex:idx_sync_pair" json:"academic_year_id"`
	IsActive       bool          `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt      time.Time     `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (SyncConfiguration) TableName() string { return "sync_configurations" }
