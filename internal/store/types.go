package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrCommandFinal is returned when a command already reached a terminal status.
	ErrCommandFinal = errors.New("command already finished")
)

// Retention defines how long records are kept by Cleanup.
type Retention struct {
	Activity time.Duration
	Commands time.Duration
}

// DefaultRetention keeps activity for 30 days and commands for 7 days.
var DefaultRetention = Retention{
	Activity: 30 * 24 * time.Hour,
	Commands: 7 * 24 * time.Hour,
}

// CleanupResult reports what a retention sweep changed.
type CleanupResult struct {
	SessionsExpired   int64
	ActivitiesDeleted int64
	CommandsDeleted   int64
}

// Total is the number of rows touched by the sweep.
func (r CleanupResult) Total() int64 {
	return r.SessionsExpired + r.ActivitiesDeleted + r.CommandsDeleted
}
