package model

import "time"

// CommandStatus is the lifecycle state of a CommandRecord.
type CommandStatus string

const (
	CommandPending CommandStatus = "pending"
	CommandSuccess CommandStatus = "success"
	CommandError   CommandStatus = "error"
	CommandTimeout CommandStatus = "timeout"
)

// Terminal reports whether the status is final.
func (s CommandStatus) Terminal() bool {
	return s == CommandSuccess || s == CommandError || s == CommandTimeout
}

// Command is a shell command issued to a device and its outcome.
type Command struct {
	ID         string        `gorm:"primaryKey;size:36" json:"id"`
	DeviceID   string        `gorm:"index;size:64;not null" json:"deviceId"`
	Command    string        `gorm:"type:text;not null" json:"command"`
	Status     CommandStatus `gorm:"size:16;not null;default:'pending'" json:"status"`
	Output     string        `gorm:"type:text" json:"output,omitempty"`
	Error      string        `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time     `gorm:"not null;index" json:"createdAt"`
	ExecutedAt *time.Time    `json:"executedAt,omitempty"`
}
