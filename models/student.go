package models

import "time"

// Student is the minimal identity record imports attach to. Rows are created
// lazily the first time a code is seen; later sightings may reconcile the
// display name but never the id or code.
type Student struct {
	ID          uint      `gorm:"primaryKey;autoIncrement;column:student_id" json:"student_id"`
	Code        string    `gorm:"column:code;type:varchar(32);uniqueIndex;not null" json:"code"`
	DisplayName string    `gorm:"column:display_name;type:varchar(191)" json:"display_name"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Student) TableName() string { return "students" }
