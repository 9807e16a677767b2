package device

import (
	"errors"
	"time"
)

var (
	// ErrUnknownDevice is returned by operations that need a known device.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrInvalidArgument is returned when request parameters are out of range.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Profile is the static identity a device reports when it registers.
type Profile struct {
	Name             string `json:"name"`
	Model            string `json:"model"`
	Manufacturer     string `json:"manufacturer"`
	AndroidVersion   string `json:"androidVersion"`
	ScreenResolution string `json:"screenResolution"`
}

// Storage is the device's internal storage usage.
type Storage struct {
	TotalBytes int64 `json:"total"`
	UsedBytes  int64 `json:"used"`
}

// Network describes the active network link.
type Network struct {
	Type           string `json:"type"`
	SSID           string `json:"ssid,omitempty"`
	SignalStrength int    `json:"signalStrength"`
	IPAddress      string `json:"ipAddress"`
}

// Descriptor is a snapshot of a device's reported attributes.
type Descriptor struct {
	ID        string `json:"id"`
	Profile
	Battery   int        `json:"battery"`
	Charging  bool       `json:"charging"`
	Storage   Storage    `json:"storage"`
	Network   Network    `json:"network"`
	Connected bool       `json:"isConnected"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
}

// FileEntry is one row of a directory listing.
type FileEntry struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	IsDirectory bool      `json:"isDirectory"`
	Size        int64     `json:"size"`
	Modified    time.Time `json:"modified"`
	Permissions string    `json:"permissions"`
}

// CommandResult is the canned outcome of a command.
type CommandResult struct {
	Command   string    `json:"command"`
	Output    string    `json:"output"`
	ExitCode  int       `json:"exitCode"`
	Timestamp time.Time `json:"timestamp"`
}

// Location is a GPS fix.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// AppEntry is an installed application.
type AppEntry struct {
	PackageName string `json:"packageName"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	System      bool   `json:"isSystemApp"`
	SizeBytes   int64  `json:"size"`
}

// CameraFacing selects the front or back camera.
type CameraFacing string

const (
	CameraFront CameraFacing = "front"
	CameraBack  CameraFacing = "back"
)

// AudioClip references a recorded audio sample.
type AudioClip struct {
	AudioRef        string `json:"audioUrl"`
	DurationSeconds int    `json:"duration"`
	ApproxSizeBytes int64  `json:"size"`
}

// NotificationResult reports a delivered notification.
type NotificationResult struct {
	Message   string    `json:"message"`
	Delivered bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}
