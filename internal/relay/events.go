package relay

import (
	"encoding/json"

	"device-relay-backend/internal/device"
)

// Inbound event names.
const (
	EventAdminAuthenticate = "admin:authenticate"
	EventAdminJoin         = "admin:join"
	EventDeviceRegister    = "device:register"
	EventDeviceScreenshot  = "device:screenshot"
	EventDeviceCommand     = "device:command"
	EventDeviceFiles       = "device:files"
	EventDeviceLocation    = "device:location"
	EventDeviceCamera      = "device:camera"
	EventDeviceAudio       = "device:audio"
	EventDeviceApps        = "device:apps"
	EventDeviceNotify      = "device:notify"
)

// Outbound event names.
const (
	EventAdminAuthenticated = "admin:authenticated"
	EventAdminError         = "admin:error"
	EventDevicesList        = "devices:list"
	EventDeviceRegistered   = "device:registered"
	EventDeviceConnect      = "device:connect"
	EventDeviceDisconnect   = "device:disconnect"
	EventDeviceStatus       = "device:status"
	EventScreenUpdate       = "screen:update"
	EventCommandResult      = "command:result"
	EventFileList           = "file:list"
	EventLocationUpdate     = "location:update"
	EventCameraResult       = "camera:result"
	EventAudioResult        = "audio:result"
	EventAppList            = "app:list"
	EventNotificationSent   = "notification:sent"
	EventError              = "error"
)

// Frame is an inbound message: a named event with a JSON payload and an
// optional correlation id echoed on the reply.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    string          `json:"id,omitempty"`
}

// Message is an outbound event.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	ID    string `json:"id,omitempty"`
}

type authenticatePayload struct {
	Token string `json:"token"`
}

type joinPayload struct {
	AdminID string `json:"adminId"`
}

type registerPayload struct {
	DeviceID   string         `json:"deviceId"`
	DeviceInfo device.Profile `json:"deviceInfo"`
	AdminID    string         `json:"adminId"`
	Token      string         `json:"token,omitempty"`
}

type deviceRequest struct {
	DeviceID  string `json:"deviceId"`
	Command   string `json:"command,omitempty"`
	CommandID string `json:"commandId,omitempty"`
	Path      string `json:"path,omitempty"`
	Camera    string `json:"camera,omitempty"`
	Duration  int    `json:"duration,omitempty"`
	Message   string `json:"message,omitempty"`
}

// AuthenticatedReply answers admin:authenticate.
type AuthenticatedReply struct {
	Success bool   `json:"success"`
	AdminID string `json:"adminId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RegisteredReply answers device:register.
type RegisteredReply struct {
	Success  bool   `json:"success"`
	DeviceID string `json:"deviceId"`
	Error    string `json:"error,omitempty"`
}

// ConnectionEvent is broadcast to an admin room on device connect or disconnect.
type ConnectionEvent struct {
	DeviceID   string             `json:"deviceId"`
	DeviceInfo *device.Descriptor `json:"deviceInfo,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Timestamp  int64              `json:"timestamp"`
}

// OperationError is sent when a device request fails. It never carries raw error detail.
type OperationError struct {
	DeviceID  string `json:"deviceId"`
	Operation string `json:"operation"`
	Error     string `json:"error"`
}
