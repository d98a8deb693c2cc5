package models

import (
	"time"

	"gorm.io/datatypes"
)

type Client struct {
	ID           uint      `gorm:"primary_key" json:"id"`
	Name         string    `gorm:"type:varchar(255);uniqueIndex" json:"name"`
	ContactEmail string    `gorm:"type:varchar(255)" json:"contact_email"`
	ContactPhone string    `gorm:"type:varchar(20)" json:"contact_phone"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type User struct {
	ID        uint       `gorm:"primary_key" json:"id"`
	Username  string     `gorm:"type:varchar(150);uniqueIndex" json:"username"`
	Email     string     `gorm:"type:varchar(255)" json:"email"`
	IsAdmin   bool       `json:"is_admin"`
	IsStaff   bool       `json:"is_staff"`
	IsActive  bool       `json:"is_active"`
	ClientID  *uint      `json:"client_id"`
	Client    *Client    `json:"-"`
	LastLogin *time.Time `json:"last_login"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (User) TableName() string {
	return "app_user"
}

// ClientProject 客户的项目分享链接
type ClientProject struct {
	ID           uint       `gorm:"primary_key" json:"id"`
	ClientID     uint       `gorm:"index;not null" json:"client_id"`
	ProjectID    uint       `gorm:"index;not null" json:"project_id"`
	Project      Project    `json:"-"`
	UniqueLink   string     `gorm:"type:varchar(255);uniqueIndex" json:"unique_link"`
	IsActive     bool       `json:"is_active"`
	ExpiresAt    *time.Time `json:"expires_at"`
	LastAccessed *time.Time `json:"last_accessed"`
	CreatedAt    time.Time  `json:"created_at"`
}

type AuditLog struct {
	ID            uint           `gorm:"primary_key" json:"id"`
	UserID        *uint          `gorm:"index" json:"user_id"`
	Action        string         `gorm:"type:varchar(255)" json:"action"`
	ActionDetails datatypes.JSON `json:"action_details"`
	IPAddress     *string        `gorm:"type:varchar(45)" json:"ip_address"`
	Timestamp     time.Time      `gorm:"index" json:"timestamp"`
}
