package models

import (
	"time"
)

// FaultType classifies the severity of a disciplinary record.
type FaultType string

const (
	FaultTypeMinor  FaultType = "minor"
	FaultTypeMajor  FaultType = "major"
	FaultTypeSevere FaultType = "severe"
)

// ValidFaultType reports whether value is one of the known severities.
func ValidFaultType(value string) bool {
	switch FaultType(value) {
	case FaultTypeMinor, FaultTypeMajor, FaultTypeSevere:
		return true
	}
	return false
}

// AcademicLevel is the school segment a section belongs to.
type AcademicLevel string

const (
	LevelPreschool  AcademicLevel = "preschool"
	LevelElementary AcademicLevel = "elementary"
	LevelMiddle     AcademicLevel = "middle"
	LevelHigh       AcademicLevel = "high"
	LevelUnknown    AcademicLevel = "unknown"
)

// ValidAcademicLevel reports whether value names a real school segment.
// "unknown" is a storage fallback, not an addressable level.
func ValidAcademicLevel(value string) bool {
	switch AcademicLevel(value) {
	case LevelPreschool, LevelElementary, LevelMiddle, LevelHigh:
		return true
	}
	return false
}

// FaultRecord is the canonical persisted disciplinary record. ContentHash is
// its deduplication identity; the unique index on it is the backstop against
// concurrent imports of the same row.
type FaultRecord struct {
	ID               uint          `gorm:"primaryKey;autoIncrement;column:fault_id" json:"fault_id"`
	ContentHash      string        `gorm:"column:content_hash;type:char(64);uniqueIndex;not null" json:"content_hash"`
	StudentID        uint          `gorm:"column:student_id;index;not null" json:"student_id"`
	StudentCode      string        `gorm:"column:student_code;type:varchar(32);index;not null" json:"student_code"`
	FaultType        FaultType     `gorm:"column:fault_type;type:enum('minor','major','severe');not null" json:"fault_type"`
	FaultNumber      *int          `gorm:"column:fault_number" json:"fault_number,omitempty"`
	Description      string        `gorm:"column:description;type:text;not null" json:"description"`
	RemedyActions    string        `gorm:"column:remedy_actions;type:text" json:"remedy_actions"`
	Author           string        `gorm:"column:author;type:varchar(191)" json:"author"`
	IncidentDate     *time.Time    `gorm:"column:incident_date" json:"incident_date,omitempty"`
	RecordCreatedAt  time.Time     `gorm:"column:record_created_at" json:"record_created_at"`
	RawCreatedAt     string        `gorm:"column:raw_created_at;type:varchar(64);not null" json:"raw_created_at"`
	LastEditedAt     *time.Time    `gorm:"column:last_edited_at" json:"last_edited_at,omitempty"`
	LastEditor       *string       `gorm:"column:last_editor;type:varchar(191)" json:"last_editor,omitempty"`
	Section          string        `gorm:"column:section;type:varchar(64)" json:"section"`
	AcademicLevel    AcademicLevel `gorm:"column:academic_level;type:varchar(16);index;not null;default:'unknown'" json:"academic_level"`
	TrimesterID      uint          `gorm:"column:trimester_id;index;not null" json:"trimester_id"`
	AcademicYearID   uint          `gorm:"column:academic_year_id;index;not null" json:"academic_year_id"`
	ExternalSourceID *int64        `gorm:"column:external_source_id" json:"external_source_id,omitempty"`
	CreatedAt        time.Time     `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (FaultRecord) TableName() string { return "fault_records" }
