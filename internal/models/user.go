package models

import (
	"time"

	"gorm.io/datatypes"
)

// User roles within the mentorship platform.
const (
	RoleMentor = "mentor"
	RoleMentee = "mentee"
)

// User is the directory record the chat core reads for existence checks and
// for enriching message payloads. Registration and profile editing live in
// the accounts service; this table is a read-mostly snapshot.
type User struct {
	ID        string            `gorm:"primaryKey;size:64" json:"id"`
	Username  string            `gorm:"size:64;uniqueIndex;not null" json:"username"`
	Role      string            `gorm:"size:16;index" json:"role"`
	Profile   datatypes.JSONMap `gorm:"type:json" json:"profile"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
