package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"device-relay-backend/internal/auth"
	"device-relay-backend/internal/device"
	"device-relay-backend/internal/model"
	"device-relay-backend/internal/store"
)

var (
	errNotAuthenticated = errors.New("not authenticated")
	errNotOwned         = errors.New("device not found")
	errStoreWrite       = errors.New("record store write failed")
)

// operation describes one device request event.
type operation struct {
	name        string
	resultEvent string
	errorEvent  string
	run         func(r *Relay, ctx context.Context, c *Connection, adminID string, req deviceRequest) (any, error)
}

var operations = map[string]operation{
	EventDeviceScreenshot: {name: "screenshot", resultEvent: EventScreenUpdate, errorEvent: "screen:error", run: (*Relay).doScreenshot},
	EventDeviceCommand:    {name: "command", resultEvent: EventCommandResult, errorEvent: "command:error", run: (*Relay).doCommand},
	EventDeviceFiles:      {name: "files", resultEvent: EventFileList, errorEvent: "file:error", run: (*Relay).doFiles},
	EventDeviceLocation:   {name: "location", resultEvent: EventLocationUpdate, errorEvent: "location:error", run: (*Relay).doLocation},
	EventDeviceCamera:     {name: "camera", resultEvent: EventCameraResult, errorEvent: "camera:error", run: (*Relay).doCamera},
	EventDeviceAudio:      {name: "audio", resultEvent: EventAudioResult, errorEvent: "audio:error", run: (*Relay).doAudio},
	EventDeviceApps:       {name: "apps", resultEvent: EventAppList, errorEvent: "app:error", run: (*Relay).doApps},
	EventDeviceNotify:     {name: "notify", resultEvent: EventNotificationSent, errorEvent: "notification:error", run: (*Relay).doNotify},
}

// Handle processes one inbound frame. Callers invoke it sequentially per
// connection, so replies to one connection go out in request order.
func (r *Relay) Handle(ctx context.Context, c *Connection, f Frame) {
	eventsTotal.WithLabelValues(metricEventName(f.Event)).Inc()

	switch f.Event {
	case EventAdminAuthenticate:
		r.handleAuthenticate(ctx, c, f)
	case EventAdminJoin:
		r.handleJoin(ctx, c, f)
	case EventDeviceRegister:
		r.handleRegister(ctx, c, f)
	default:
		op, ok := operations[f.Event]
		if !ok {
			r.send(c, Message{Event: EventError, ID: f.ID, Data: map[string]string{"error": "unknown event", "event": f.Event}})
			return
		}
		r.handleOperation(ctx, c, f, op)
	}
}

func metricEventName(event string) string {
	if _, ok := operations[event]; ok {
		return event
	}
	switch event {
	case EventAdminAuthenticate, EventAdminJoin, EventDeviceRegister:
		return event
	}
	return "unknown"
}

func (r *Relay) handleAuthenticate(ctx context.Context, c *Connection, f Frame) {
	var p authenticatePayload
	if err := json.Unmarshal(f.Data, &p); err != nil || p.Token == "" {
		operationErrorsTotal.WithLabelValues("authenticate", "auth").Inc()
		r.send(c, Message{Event: EventAdminAuthenticated, ID: f.ID, Data: AuthenticatedReply{Success: false, Error: "Authentication failed"}})
		return
	}

	claims, err := r.tokens.VerifyToken(p.Token)
	if err != nil || claims == nil || claims.Role != auth.RoleAdmin {
		operationErrorsTotal.WithLabelValues("authenticate", "auth").Inc()
		r.log.Info().Str("conn_id", c.ID).Msg("admin authentication rejected")
		r.send(c, Message{Event: EventAdminAuthenticated, ID: f.ID, Data: AuthenticatedReply{Success: false, Error: "Authentication failed"}})
		return
	}

	adminID := claims.SubjectID()
	if _, deviceID := r.Binding(c); deviceID != "" {
		r.send(c, Message{Event: EventAdminAuthenticated, ID: f.ID, Data: AuthenticatedReply{Success: false, Error: "Connection is registered as a device"}})
		return
	}
	if err := r.appendActivity(ctx, "", adminID, "admin_authenticated", map[string]any{"connId": c.ID}); err != nil {
		r.send(c, Message{Event: EventAdminAuthenticated, ID: f.ID, Data: AuthenticatedReply{Success: false, Error: "Failed to record session"}})
		return
	}

	r.mu.Lock()
	if c.deviceID != "" {
		r.mu.Unlock()
		r.send(c, Message{Event: EventAdminAuthenticated, ID: f.ID, Data: AuthenticatedReply{Success: false, Error: "Connection is registered as a device"}})
		return
	}
	if c.adminID != "" && c.adminID != adminID {
		r.leaveRoomsLocked(c)
	}
	c.adminID = adminID
	r.mu.Unlock()

	r.send(c, Message{Event: EventAdminAuthenticated, ID: f.ID, Data: AuthenticatedReply{Success: true, AdminID: adminID}})
	r.log.Info().Str("conn_id", c.ID).Str("admin_id", adminID).Msg("admin authenticated")
}

func (r *Relay) handleJoin(ctx context.Context, c *Connection, f Frame) {
	var p joinPayload
	_ = json.Unmarshal(f.Data, &p)

	r.mu.Lock()
	bound := c.adminID
	if bound == "" || (p.AdminID != "" && p.AdminID != bound) {
		r.mu.Unlock()
		operationErrorsTotal.WithLabelValues("join", "auth").Inc()
		r.send(c, Message{Event: EventAdminError, ID: f.ID, Data: map[string]string{"error": "Not authorized to join this room"}})
		return
	}
	members, ok := r.rooms[bound]
	if !ok {
		members = make(map[string]*Connection)
		r.rooms[bound] = members
	}
	members[c.ID] = c
	r.mu.Unlock()

	devices, err := r.DevicesForAdmin(ctx, bound)
	if err != nil {
		r.countStoreError("join")
		r.log.Error().Err(err).Str("admin_id", bound).Msg("failed to list devices for admin")
		r.send(c, Message{Event: EventAdminError, ID: f.ID, Data: map[string]string{"error": "Failed to load devices"}})
		return
	}
	r.send(c, Message{Event: EventDevicesList, ID: f.ID, Data: devices})
}

// DevicesForAdmin lists the admin's devices, merging persisted records with
// live state from the device source and relay registrations.
func (r *Relay) DevicesForAdmin(ctx context.Context, adminID string) ([]device.Descriptor, error) {
	records, err := r.store.ListDevicesForAdmin(ctx, adminID)
	if err != nil {
		return nil, err
	}

	out := make([]device.Descriptor, 0, len(records))
	for _, rec := range records {
		d, err := r.source.Describe(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		if d == nil {
			d = descriptorFromRecord(rec)
		}
		_, live := r.Registration(rec.ID)
		d.Connected = live
		out = append(out, *d)
	}
	return out, nil
}

func descriptorFromRecord(rec model.Device) *device.Descriptor {
	d := &device.Descriptor{ID: rec.ID, LastSeen: rec.LastSeen}
	if rec.Info != "" {
		_ = json.Unmarshal([]byte(rec.Info), d)
	}
	d.ID = rec.ID
	d.Name = rec.Name
	d.Model = rec.Model
	d.AndroidVersion = rec.AndroidVersion
	return d
}

func (r *Relay) handleRegister(ctx context.Context, c *Connection, f Frame) {
	var p registerPayload
	if err := json.Unmarshal(f.Data, &p); err != nil || strings.TrimSpace(p.DeviceID) == "" || p.AdminID == "" {
		operationErrorsTotal.WithLabelValues("register", "decode").Inc()
		r.send(c, Message{Event: EventDeviceRegistered, ID: f.ID, Data: RegisteredReply{Success: false, DeviceID: p.DeviceID, Error: "deviceId and adminId are required"}})
		return
	}

	if reason := r.checkDeviceToken(p); reason != "" {
		operationErrorsTotal.WithLabelValues("register", "auth").Inc()
		r.send(c, Message{Event: EventDeviceRegistered, ID: f.ID, Data: RegisteredReply{Success: false, DeviceID: p.DeviceID, Error: reason}})
		return
	}

	reply, err := r.registerDevice(ctx, c, p)
	if err != nil {
		r.log.Error().Err(err).Str("device_id", p.DeviceID).Msg("device registration failed")
		r.send(c, Message{Event: EventDeviceRegistered, ID: f.ID, Data: RegisteredReply{Success: false, DeviceID: p.DeviceID, Error: "Registration failed"}})
		return
	}
	r.send(c, Message{Event: EventDeviceRegistered, ID: f.ID, Data: reply})
}

func (r *Relay) checkDeviceToken(p registerPayload) string {
	if p.Token == "" {
		if r.opts.RequireDeviceToken {
			return "Device token required"
		}
		return ""
	}
	claims, err := r.tokens.VerifyToken(p.Token)
	if err != nil || claims.Role != auth.RoleDevice || claims.DeviceID != p.DeviceID || claims.SubjectID() != p.AdminID {
		return "Invalid device token"
	}
	return ""
}

// registerDevice binds the connection to the device id. The whole
// registration runs under the device's lock, so concurrent registrations of
// the same id never interleave; the last one wins. Moving a device to a
// different admin requires a device token issued by that admin.
func (r *Relay) registerDevice(ctx context.Context, c *Connection, p registerPayload) (RegisteredReply, error) {
	unlock := r.deviceLocks.Lock(p.DeviceID)
	defer unlock()

	owner, err := r.currentOwner(ctx, p.DeviceID)
	if err != nil {
		r.countStoreError("register")
		return RegisteredReply{}, fmt.Errorf("look up device owner: %w", err)
	}
	if owner != "" && owner != p.AdminID && p.Token == "" {
		operationErrorsTotal.WithLabelValues("register", "auth").Inc()
		r.log.Warn().Str("device_id", p.DeviceID).Str("owner", owner).Str("admin_id", p.AdminID).Msg("rejected device re-registration under another admin")
		return RegisteredReply{Success: false, DeviceID: p.DeviceID, Error: "Device is registered to another admin"}, nil
	}

	r.mu.Lock()
	if c.closed {
		r.mu.Unlock()
		return RegisteredReply{}, errors.New("connection closed")
	}
	if c.adminID != "" {
		r.mu.Unlock()
		return RegisteredReply{Success: false, DeviceID: p.DeviceID, Error: "Connection is authenticated as an admin"}, nil
	}
	if c.deviceID != "" && c.deviceID != p.DeviceID {
		r.mu.Unlock()
		return RegisteredReply{Success: false, DeviceID: p.DeviceID, Error: "Connection already registered another device"}, nil
	}
	var replacedAdmin string
	if prev, ok := r.devices[p.DeviceID]; ok {
		// A newer connection replaces the previous owner.
		if old, ok := r.conns[prev.ConnID]; ok && old != c {
			old.deviceID = ""
		}
		if prev.AdminID != p.AdminID {
			replacedAdmin = prev.AdminID
		}
	} else {
		registeredDevicesGauge.Inc()
	}
	now := r.now()
	r.devices[p.DeviceID] = &Registration{
		DeviceID:       p.DeviceID,
		ConnID:         c.ID,
		AdminID:        p.AdminID,
		Profile:        p.DeviceInfo,
		ConnectedSince: now,
	}
	c.deviceID = p.DeviceID
	r.mu.Unlock()

	if err := r.source.Register(ctx, p.DeviceID, p.DeviceInfo); err != nil {
		r.dropRegistration(c, p.DeviceID)
		return RegisteredReply{}, fmt.Errorf("register in source: %w", err)
	}
	if err := r.source.UpdateConnection(ctx, p.DeviceID, true); err != nil {
		r.dropRegistration(c, p.DeviceID)
		return RegisteredReply{}, fmt.Errorf("update connection: %w", err)
	}

	desc, err := r.source.Describe(ctx, p.DeviceID)
	if err != nil {
		r.dropRegistration(c, p.DeviceID)
		return RegisteredReply{}, fmt.Errorf("describe device: %w", err)
	}

	if err := r.persistRegistration(ctx, c, p, desc, now); err != nil {
		r.rollbackRegistration(ctx, c, p.DeviceID)
		return RegisteredReply{}, err
	}

	if replacedAdmin != "" {
		r.BroadcastToAdmin(replacedAdmin, Message{Event: EventDeviceDisconnect, Data: ConnectionEvent{
			DeviceID:  p.DeviceID,
			Reason:    "replaced",
			Timestamp: now.UnixMilli(),
		}})
		if r.notifier != nil {
			r.notifier.DeviceEvent(replacedAdmin, p.DeviceID, EventDeviceDisconnect)
		}
	}
	r.BroadcastToAdmin(p.AdminID, Message{Event: EventDeviceConnect, Data: ConnectionEvent{
		DeviceID:   p.DeviceID,
		DeviceInfo: desc,
		Timestamp:  now.UnixMilli(),
	}})
	if r.notifier != nil {
		r.notifier.DeviceEvent(p.AdminID, p.DeviceID, EventDeviceConnect)
	}
	r.log.Info().Str("device_id", p.DeviceID).Str("admin_id", p.AdminID).Str("conn_id", c.ID).Msg("device registered")
	return RegisteredReply{Success: true, DeviceID: p.DeviceID}, nil
}

// currentOwner returns the admin the device belongs to, live or persisted.
// An unknown device has no owner.
func (r *Relay) currentOwner(ctx context.Context, deviceID string) (string, error) {
	if reg, ok := r.Registration(deviceID); ok {
		return reg.AdminID, nil
	}
	rec, err := r.store.GetDevice(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return rec.AdminID, nil
}

// rollbackRegistration undoes a registration whose records could not be
// written. Caller holds the device lock.
func (r *Relay) rollbackRegistration(ctx context.Context, c *Connection, deviceID string) {
	r.dropRegistration(c, deviceID)
	if err := r.source.UpdateConnection(ctx, deviceID, false); err != nil {
		r.log.Warn().Err(err).Str("device_id", deviceID).Msg("failed to reset device connection in source")
	}
	if err := r.store.SetDeviceConnected(ctx, deviceID, false, r.now()); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.log.Warn().Err(err).Str("device_id", deviceID).Msg("failed to reset device connected flag")
	}
	if err := r.store.DeactivateSessions(ctx, deviceID); err != nil {
		r.log.Warn().Err(err).Str("device_id", deviceID).Msg("failed to deactivate device sessions")
	}
}

func (r *Relay) dropRegistration(c *Connection, deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.devices[deviceID]; ok && reg.ConnID == c.ID {
		delete(r.devices, deviceID)
		registeredDevicesGauge.Dec()
	}
	if c.deviceID == deviceID {
		c.deviceID = ""
	}
}

// persistRegistration writes the device record, its session and the audit
// entry. Any failure fails the registration.
func (r *Relay) persistRegistration(ctx context.Context, c *Connection, p registerPayload, desc *device.Descriptor, now time.Time) error {
	info, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("encode device info: %w", err)
	}
	rec := &model.Device{
		ID:             p.DeviceID,
		AdminID:        p.AdminID,
		Name:           desc.Name,
		Model:          desc.Model,
		AndroidVersion: desc.AndroidVersion,
		Info:           string(info),
		Connected:      true,
		LastSeen:       &now,
	}
	if err := r.store.UpsertDevice(ctx, rec); err != nil {
		r.countStoreError("register")
		return fmt.Errorf("persist device: %w", err)
	}
	err = r.store.CreateSession(ctx, &model.Session{
		DeviceID:  p.DeviceID,
		AdminID:   p.AdminID,
		Active:    true,
		CreatedAt: now,
		ExpiresAt: now.Add(r.opts.SessionTTL),
	})
	if err != nil {
		r.countStoreError("register")
		return fmt.Errorf("create session: %w", err)
	}
	if err := r.appendActivity(ctx, p.DeviceID, p.AdminID, "device_registered", map[string]any{"connId": c.ID, "deviceInfo": p.DeviceInfo}); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

func (r *Relay) handleOperation(ctx context.Context, c *Connection, f Frame, op operation) {
	var req deviceRequest
	if err := json.Unmarshal(f.Data, &req); err != nil || req.DeviceID == "" {
		operationErrorsTotal.WithLabelValues(op.name, "decode").Inc()
		r.send(c, Message{Event: op.errorEvent, ID: f.ID, Data: OperationError{DeviceID: req.DeviceID, Operation: op.name, Error: "Invalid request"}})
		return
	}

	adminID, err := r.authorize(ctx, c, req.DeviceID)
	if err != nil {
		operationErrorsTotal.WithLabelValues(op.name, "auth").Inc()
		msg := "Not authenticated"
		if errors.Is(err, errNotOwned) {
			msg = "Device not found"
		}
		r.send(c, Message{Event: op.errorEvent, ID: f.ID, Data: OperationError{DeviceID: req.DeviceID, Operation: op.name, Error: msg}})
		return
	}

	failed := OperationError{DeviceID: req.DeviceID, Operation: op.name, Error: fmt.Sprintf("Failed to %s", describeOp(op.name))}
	result, err := op.run(r, ctx, c, adminID, req)
	if err != nil {
		if !errors.Is(err, errStoreWrite) {
			operationErrorsTotal.WithLabelValues(op.name, "source").Inc()
		}
		r.log.Warn().Err(err).Str("device_id", req.DeviceID).Str("operation", op.name).Msg("device operation failed")
		r.send(c, Message{Event: op.errorEvent, ID: f.ID, Data: failed})
		return
	}

	if err := r.appendActivity(ctx, req.DeviceID, adminID, op.name, activityDetails(op.name, req)); err != nil {
		r.send(c, Message{Event: op.errorEvent, ID: f.ID, Data: failed})
		return
	}
	r.send(c, Message{Event: op.resultEvent, ID: f.ID, Data: result})
}

// authorize returns the admin id bound to the connection and checks the
// admin may address the device. Devices registered to, or persisted for,
// another admin are reported as not found.
func (r *Relay) authorize(ctx context.Context, c *Connection, deviceID string) (string, error) {
	adminID, _ := r.Binding(c)
	if adminID == "" {
		return "", errNotAuthenticated
	}
	if reg, ok := r.Registration(deviceID); ok {
		if reg.AdminID != adminID {
			return "", errNotOwned
		}
		return adminID, nil
	}
	rec, err := r.store.GetDevice(ctx, deviceID)
	if err == nil && rec.AdminID != adminID {
		return "", errNotOwned
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		r.countStoreError("authorize")
		r.log.Error().Err(err).Str("device_id", deviceID).Msg("failed to look up device owner")
	}
	return adminID, nil
}

func describeOp(name string) string {
	switch name {
	case "screenshot":
		return "capture screenshot"
	case "command":
		return "execute command"
	case "files":
		return "list files"
	case "location":
		return "get location"
	case "camera":
		return "capture camera"
	case "audio":
		return "record audio"
	case "apps":
		return "list apps"
	case "notify":
		return "send notification"
	}
	return name
}

func activityDetails(name string, req deviceRequest) map[string]any {
	switch name {
	case "command":
		return map[string]any{"command": req.Command, "commandId": req.CommandID}
	case "files":
		return map[string]any{"path": req.Path}
	case "camera":
		return map[string]any{"camera": req.Camera}
	case "audio":
		return map[string]any{"duration": req.Duration}
	case "notify":
		return map[string]any{"message": req.Message}
	}
	return nil
}

func encodeDetails(details any) string {
	if details == nil {
		return ""
	}
	b, err := json.Marshal(details)
	if err != nil {
		return ""
	}
	return string(b)
}
