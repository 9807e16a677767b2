package poller

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"device-relay-backend/config"
	"device-relay-backend/internal/auth"
	"device-relay-backend/internal/db"
	"device-relay-backend/internal/device"
	"device-relay-backend/internal/relay"
	"device-relay-backend/internal/store"
)

// mockBroadcaster is a mock implementation of the Broadcaster interface.
type mockBroadcaster struct {
	mu            sync.Mutex
	registrations []relay.Registration
	sent          map[string][]device.Descriptor
	roomSize      int
}

func (m *mockBroadcaster) Registrations() []relay.Registration {
	return m.registrations
}

func (m *mockBroadcaster) WithDevice(deviceID string, fn func(reg relay.Registration)) bool {
	for _, reg := range m.registrations {
		if reg.DeviceID == deviceID {
			fn(reg)
			return true
		}
	}
	return false
}

func (m *mockBroadcaster) BroadcastStatus(adminID string, d device.Descriptor) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == nil {
		m.sent = make(map[string][]device.Descriptor)
	}
	m.sent[adminID] = append(m.sent[adminID], d)
	return m.roomSize
}

func newStore(t *testing.T) store.Store {
	gormDB, err := db.Init(&config.DatabaseConfig{DSN: "file:" + t.Name() + "?mode=memory&cache=shared"}, zerolog.Nop())
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return store.NewGormStore(gormDB, store.DefaultRetention)
}

func TestPollOnce(t *testing.T) {
	st := newStore(t)
	sim := device.NewSimulator(device.Options{Seed: 3})
	b := &mockBroadcaster{
		roomSize: 1,
		registrations: []relay.Registration{
			{DeviceID: "device-001", AdminID: "admin-a"},
			{DeviceID: "device-002", AdminID: "admin-b"},
			{DeviceID: "ghost", AdminID: "admin-a"},
		},
	}
	svc := NewService(config.PollerConfig{Enabled: true, Interval: time.Hour}, b, sim, st, zerolog.Nop())

	sent := svc.PollOnce(context.Background())
	assert.Equal(t, 2, sent)

	require.Len(t, b.sent["admin-a"], 1)
	assert.Equal(t, "device-001", b.sent["admin-a"][0].ID)
	assert.True(t, b.sent["admin-a"][0].Connected)
	require.Len(t, b.sent["admin-b"], 1)

	rec, err := st.GetDevice(context.Background(), "device-002")
	require.NoError(t, err)
	assert.Equal(t, "admin-b", rec.AdminID)
	assert.True(t, rec.Connected)
	assert.Contains(t, rec.Info, "Google Pixel 7")

	_, err = st.GetDevice(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPollOnce_EmptyRoomIsNotCounted(t *testing.T) {
	b := &mockBroadcaster{registrations: []relay.Registration{{DeviceID: "device-001", AdminID: "admin-a"}}}
	svc := NewService(config.PollerConfig{Enabled: true}, b, device.NewSimulator(device.Options{Seed: 3}), newStore(t), zerolog.Nop())

	assert.Equal(t, 0, svc.PollOnce(context.Background()))
	assert.Len(t, b.sent["admin-a"], 1)
}

func TestRun_DisabledReturnsImmediately(t *testing.T) {
	svc := NewService(config.PollerConfig{Enabled: false}, &mockBroadcaster{}, nil, nil, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		svc.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled poller did not return")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	b := &mockBroadcaster{roomSize: 1, registrations: []relay.Registration{{DeviceID: "device-001", AdminID: "admin-a"}}}
	svc := NewService(config.PollerConfig{Enabled: true, Interval: 10 * time.Millisecond}, b, device.NewSimulator(device.Options{Seed: 3}), newStore(t), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.sent["admin-a"]) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

// staleRelay serves a registration snapshot taken before a disconnect.
type staleRelay struct {
	*relay.Relay
	snapshot []relay.Registration
}

func (s staleRelay) Registrations() []relay.Registration {
	return s.snapshot
}

type nopPeer struct{}

func (nopPeer) Enqueue(relay.Message) error { return nil }
func (nopPeer) Close()                      {}

func TestPollOnce_SkipsDeviceThatDisconnected(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	sim := device.NewSimulator(device.Options{Seed: 3})
	rl := relay.New(auth.NewTokenService("secret", time.Hour), sim, st, zerolog.Nop(), relay.Options{})

	conn := rl.Connect(nopPeer{})
	raw, err := json.Marshal(map[string]string{"deviceId": "device-001", "adminId": "admin-a"})
	require.NoError(t, err)
	rl.Handle(ctx, conn, relay.Frame{Event: relay.EventDeviceRegister, Data: raw})

	snapshot := rl.Registrations()
	require.Len(t, snapshot, 1)
	rl.Disconnect(ctx, conn, "client disconnect")

	svc := NewService(config.PollerConfig{Enabled: true}, staleRelay{Relay: rl, snapshot: snapshot}, sim, st, zerolog.Nop())
	assert.Equal(t, 0, svc.PollOnce(ctx))

	rec, err := st.GetDevice(ctx, "device-001")
	require.NoError(t, err)
	assert.False(t, rec.Connected)
}
