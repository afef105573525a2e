package models

import "time"

// AcademicYear bounds a school year. Exactly one row is active at a time;
// that invariant is enforced by the settings screens, this engine only reads
// the flag.
type AcademicYear struct {
	ID        uint      `gorm:"primaryKey;autoIncrement;column:year_id" json:"year_id"`
	Name      string    `gorm:"column:name;type:varchar(32);not null" json:"name"`
	StartDate time.Time `gorm:"column:start_date;not null" json:"start_date"`
	EndDate   time.Time `gorm:"column:end_date;not null" json:"end_date"`
	IsActive  bool      `gorm:"column:is_active;not null;default:false" json:"is_active"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (AcademicYear) TableName() string { return "academic_years" }

// Trimester is a bounded sub-period of an academic year. Periods within one
// year are expected to be non-overlapping and ordered by Order; the period
// resolver assumes that but does not enforce it.
type Trimester struct {
	ID             uint      `gorm:"primaryKey;autoIncrement;column:trimester_id" json:"trimester_id"`
	AcademicYearID uint      `gorm:"column:academic_year_id;index;not null" json:"academic_year_id"`
	Order          int       `gorm:"column:sort_order;not null" json:"order"`
	Name           string    `gorm:"column:name;type:varchar(64);not null" json:"name"`
	StartDate      time.Time `gorm:"column:start_date;not null" json:"start_date"`
	EndDate        time.Time `gorm:"column:end_date;not null" json:"end_date"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Trimester) TableName() string { return "trimesters" }

// Contains reports whether the calendar date falls inside the trimester,
// boundaries included. Time-of-day components on any side are ignored.
func (t Trimester) Contains(date time.Time) bool {
	d := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	start := time.Date(t.StartDate.Year(), t.StartDate.Month(), t.StartDate.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(t.EndDate.Year(), t.EndDate.Month(), t.EndDate.Day(), 0, 0, 0, 0, time.UTC)
	return !d.Before(start) && !d.After(end)
}

// SectionLevel maps a section label (a homeroom group such as "10B") to its
// academic level. Rows here take precedence over the static table built into
// the normalizer, so new sections can be mapped without a deploy.
type SectionLevel struct {
	ID        uint          `gorm:"primaryKey;autoIncrement" json:"id"`
	Section   string        `gorm:"column:section;type:varchar(64);uniqueIndex;not null" json:"section"`
	Level     AcademicLevel `gorm:"column:level;type:varchar(16);not null" json:"level"`
	CreatedAt time.Time     `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time     `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (SectionLevel) TableName() string { return "section_levels" }
