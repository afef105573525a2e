package models

import "time"

const (
	RoleStaff = 1
	RoleAdmin = 3
)

// User is a dashboard account. Only what the auth middleware and login need
// live here; account management screens are outside this service.
type User struct {
	UserID      int        `gorm:"primaryKey;column:user_id" json:"user_id"`
	DisplayName string     `gorm:"column:display_name;type:varchar(191)" json:"display_name"`
	Email       string     `gorm:"column:email;type:varchar(191);uniqueIndex;not null" json:"email"`
	Password    string     `gorm:"column:password;not null" json:"-"`
	RoleID      int        `gorm:"column:role_id;not null;default:1" json:"role_id"`
	CreateAt    *time.Time `gorm:"column:create_at;autoCreateTime" json:"create_at,omitempty"`
	UpdateAt    *time.Time `gorm:"column:update_at;autoUpdateTime" json:"update_at,omitempty"`
	DeleteAt    *time.Time `gorm:"column:delete_at" json:"delete_at,omitempty"`
}

func (User) TableName() string { return "users" }
