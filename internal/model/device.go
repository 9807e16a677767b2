package model

import "time"

// Device is the persisted record of an administered Android device.
// Info holds the last reported descriptor as an opaque JSON blob.
type Device struct {
	ID             string `gorm:"primaryKey;size:64"`
	AdminID        string `gorm:"index;size:64;not null"`
	Name           string `gorm:"size:256;not null"`
	Model          string `gorm:"size:128"`
	AndroidVersion string `gorm:"size:32"`
	Info           string `gorm:"type:text"`
	Connected      bool   `gorm:"not null;default:false"`
	LastSeen       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
