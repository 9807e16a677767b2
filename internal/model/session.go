package model

import "time"

// Session records one device connection lifetime.
type Session struct {
	ID        string    `gorm:"primaryKey;size:36"`
	DeviceID  string    `gorm:"index;size:64;not null"`
	AdminID   string    `gorm:"size:64"`
	Active    bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null;index"`
	ExpiresAt time.Time `gorm:"not null;index"`
}
