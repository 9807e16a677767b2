package model

import "time"

// Admin is a dashboard operator account.
type Admin struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Username     string    `gorm:"uniqueIndex;size:128;not null"`
	PasswordHash string    `gorm:"size:256;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`

	// Associations
	Devices []Device `gorm:"foreignKey:AdminID"`
}
