package model

import "time"

// Activity is an append-only audit entry for a relay operation.
type Activity struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	DeviceID  string    `gorm:"index;size:64" json:"deviceId"`
	AdminID   string    `gorm:"size:64" json:"adminId,omitempty"`
	Action    string    `gorm:"size:64;not null" json:"action"`
	Details   string    `gorm:"type:text" json:"details,omitempty"`
	CreatedAt time.Time `gorm:"not null;index" json:"timestamp"`
}
