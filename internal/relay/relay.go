package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"device-relay-backend/internal/auth"
	"device-relay-backend/internal/device"
	"device-relay-backend/internal/keyed"
	"device-relay-backend/internal/model"
	"device-relay-backend/internal/store"
)

// ErrPeerClosed is returned by Peer.Enqueue once the peer is gone.
var ErrPeerClosed = errors.New("peer closed")

// Peer is the transport side of a connection. Enqueue must not block and
// must preserve the order of calls.
type Peer interface {
	Enqueue(msg Message) error
	Close()
}

// TokenVerifier verifies bearer tokens presented on the relay.
type TokenVerifier interface {
	VerifyToken(token string) (*auth.Claims, error)
}

// Notifier is told about device connect and disconnect events.
type Notifier interface {
	DeviceEvent(adminID, deviceID, kind string)
}

// Connection is one live transport link.
type Connection struct {
	ID        string
	CreatedAt time.Time
	peer      Peer

	// guarded by Relay.mu
	adminID  string
	deviceID string
	closed   bool
}

// Registration maps a device id to the connection representing it.
type Registration struct {
	DeviceID       string
	ConnID         string
	AdminID        string
	Profile        device.Profile
	ConnectedSince time.Time
}

// Options configures a Relay.
type Options struct {
	RequireDeviceToken bool
	SessionTTL         time.Duration
	Notifier           Notifier
	Clock              func() time.Time
}

// Relay tracks live connections, admin rooms and device registrations, and
// routes events between them. All tables are owned by the Relay instance.
type Relay struct {
	mu      sync.RWMutex
	conns   map[string]*Connection
	rooms   map[string]map[string]*Connection
	devices map[string]*Registration

	deviceLocks *keyed.Mutex

	tokens   TokenVerifier
	source   device.Source
	store    store.Store
	notifier Notifier
	log      zerolog.Logger
	opts     Options
	now      func() time.Time
}

// New creates a relay.
func New(tokens TokenVerifier, source device.Source, st store.Store, log zerolog.Logger, opts Options) *Relay {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Relay{
		conns:       make(map[string]*Connection),
		rooms:       make(map[string]map[string]*Connection),
		devices:     make(map[string]*Registration),
		deviceLocks: keyed.New(),
		tokens:      tokens,
		source:      source,
		store:       st,
		notifier:    opts.Notifier,
		log:         log,
		opts:        opts,
		now:         clock,
	}
}

// Connect admits a new unauthenticated connection.
func (r *Relay) Connect(peer Peer) *Connection {
	c := &Connection{ID: uuid.NewString(), CreatedAt: r.now(), peer: peer}

	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()

	connectionsGauge.Inc()
	r.log.Debug().Str("conn_id", c.ID).Msg("connection opened")
	return c
}

// Disconnect tears down every binding of the connection. It is safe to call more than once.
func (r *Relay) Disconnect(ctx context.Context, c *Connection, reason string) {
	r.mu.Lock()
	if c.closed {
		r.mu.Unlock()
		return
	}
	c.closed = true
	adminID, deviceID := c.adminID, c.deviceID
	delete(r.conns, c.ID)
	r.leaveRoomsLocked(c)
	r.mu.Unlock()
	connectionsGauge.Dec()

	if adminID != "" {
		_ = r.appendActivity(ctx, "", adminID, "admin_disconnected", map[string]any{"reason": reason})
		r.log.Info().Str("conn_id", c.ID).Str("admin_id", adminID).Str("reason", reason).Msg("admin disconnected")
	}
	if deviceID != "" {
		r.releaseDevice(ctx, c, deviceID, reason)
	}
}

// releaseDevice removes the registration if this connection still owns it.
func (r *Relay) releaseDevice(ctx context.Context, c *Connection, deviceID, reason string) {
	unlock := r.deviceLocks.Lock(deviceID)
	defer unlock()

	r.mu.Lock()
	reg, ok := r.devices[deviceID]
	if !ok || reg.ConnID != c.ID {
		r.mu.Unlock()
		return
	}
	delete(r.devices, deviceID)
	r.mu.Unlock()
	registeredDevicesGauge.Dec()

	if err := r.source.UpdateConnection(ctx, deviceID, false); err != nil {
		r.log.Warn().Err(err).Str("device_id", deviceID).Msg("failed to mark device disconnected in source")
	}
	if err := r.store.SetDeviceConnected(ctx, deviceID, false, r.now()); err != nil {
		r.countStoreError("disconnect")
		r.log.Error().Err(err).Str("device_id", deviceID).Msg("failed to persist device disconnect")
	}
	if err := r.store.DeactivateSessions(ctx, deviceID); err != nil {
		r.countStoreError("disconnect")
		r.log.Error().Err(err).Str("device_id", deviceID).Msg("failed to deactivate device sessions")
	}
	_ = r.appendActivity(ctx, deviceID, reg.AdminID, "device_disconnected", map[string]any{"reason": reason})

	r.BroadcastToAdmin(reg.AdminID, Message{Event: EventDeviceDisconnect, Data: ConnectionEvent{
		DeviceID:  deviceID,
		Reason:    reason,
		Timestamp: r.now().UnixMilli(),
	}})
	if r.notifier != nil {
		r.notifier.DeviceEvent(reg.AdminID, deviceID, EventDeviceDisconnect)
	}
	r.log.Info().Str("device_id", deviceID).Str("admin_id", reg.AdminID).Str("reason", reason).Msg("device disconnected")
}

func (r *Relay) leaveRoomsLocked(c *Connection) {
	for adminID, members := range r.rooms {
		if _, ok := members[c.ID]; ok {
			delete(members, c.ID)
			if len(members) == 0 {
				delete(r.rooms, adminID)
			}
		}
	}
}

// BroadcastToAdmin enqueues msg for every connection joined to the admin's room.
func (r *Relay) BroadcastToAdmin(adminID string, msg Message) int {
	if adminID == "" {
		return 0
	}
	r.mu.RLock()
	members := make([]*Connection, 0, len(r.rooms[adminID]))
	for _, c := range r.rooms[adminID] {
		members = append(members, c)
	}
	r.mu.RUnlock()

	for _, c := range members {
		r.send(c, msg)
	}
	return len(members)
}

func (r *Relay) send(c *Connection, msg Message) {
	if err := c.peer.Enqueue(msg); err != nil {
		droppedMessagesTotal.Inc()
		r.log.Debug().Err(err).Str("conn_id", c.ID).Str("event", msg.Event).Msg("dropped outbound message")
	}
}

// Registrations returns a snapshot of registered devices ordered by id.
func (r *Relay) Registrations() []Registration {
	r.mu.RLock()
	out := make([]Registration, 0, len(r.devices))
	for _, reg := range r.devices {
		out = append(out, *reg)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Registration returns the registration for a device id.
func (r *Relay) Registration(deviceID string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.devices[deviceID]
	if !ok {
		return Registration{}, false
	}
	return *reg, true
}

// WithDevice runs fn while holding the device's lock, and only if the device
// is still registered. It reports whether fn ran. Registration and release
// take the same lock, so fn never observes a device that has gone away.
func (r *Relay) WithDevice(deviceID string, fn func(reg Registration)) bool {
	unlock := r.deviceLocks.Lock(deviceID)
	defer unlock()

	reg, ok := r.Registration(deviceID)
	if !ok {
		return false
	}
	fn(reg)
	return true
}

// Binding returns the admin id and device id bound to the connection.
func (r *Relay) Binding(c *Connection) (adminID, deviceID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return c.adminID, c.deviceID
}

// ConnectionCount returns the number of open connections.
func (r *Relay) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// RoomSize returns the number of connections joined to an admin's room.
func (r *Relay) RoomSize(adminID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[adminID])
}

// Shutdown closes every peer; transports then call Disconnect.
func (r *Relay) Shutdown() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.peer.Close()
	}
}

// appendActivity writes one audit entry. Failures are logged and counted
// here; callers with a client waiting on the outcome also report them.
func (r *Relay) appendActivity(ctx context.Context, deviceID, adminID, action string, details any) error {
	activity := &model.Activity{
		DeviceID:  deviceID,
		AdminID:   adminID,
		Action:    action,
		Details:   encodeDetails(details),
		CreatedAt: r.now(),
	}
	if err := r.store.AppendActivity(ctx, activity); err != nil {
		r.countStoreError(action)
		r.log.Error().Err(err).Str("device_id", deviceID).Str("action", action).Msg("failed to append activity")
		return err
	}
	return nil
}

func (r *Relay) countStoreError(op string) {
	operationErrorsTotal.WithLabelValues(op, "store").Inc()
}
