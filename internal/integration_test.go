package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"device-relay-backend/config"
	"device-relay-backend/internal/api"
	"device-relay-backend/internal/auth"
	"device-relay-backend/internal/db"
	"device-relay-backend/internal/device"
	"device-relay-backend/internal/model"
	"device-relay-backend/internal/mw"
	"device-relay-backend/internal/poller"
	"device-relay-backend/internal/relay"
	"device-relay-backend/internal/retention"
	"device-relay-backend/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	ID    string          `json:"id"`
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(envelope{Event: event, Data: raw}))
}

func await(t *testing.T, conn *websocket.Conn, event string) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg envelope
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event == event {
			return msg
		}
	}
}

// TestDeviceSessionLifecycle drives a full admin and device session through
// the HTTP API and the websocket relay, and checks the persisted records at
// each step.
func TestDeviceSessionLifecycle(t *testing.T) {
	// --- Test Setup ---
	gormDB, err := db.Init(&config.DatabaseConfig{DSN: "file:lifecycle?mode=memory&cache=shared"}, zerolog.Nop())
	require.NoError(t, err)
	sqlDB, _ := gormDB.DB()
	defer sqlDB.Close()

	ctx := context.Background()
	st := store.NewGormStore(gormDB, store.DefaultRetention)
	identity := auth.Identity{AdminID: "admin-001", Username: "admin", Password: "admin123"}
	_, err = auth.SeedAdmin(ctx, st, identity)
	require.NoError(t, err)

	tokens := auth.NewTokenService("integration-secret", 24*time.Hour)
	sim := device.NewSimulator(device.Options{BaseLatitude: 37.7749, BaseLongitude: -122.4194, Seed: 99})
	rl := relay.New(tokens, sim, st, zerolog.Nop(), relay.Options{RequireDeviceToken: true})
	ws := relay.NewWSServer(rl, relay.WSOptions{})
	h := api.NewHandler(api.Deps{Store: st, Tokens: tokens, Credentials: auth.NewCredentials(identity), Relay: rl, Source: sim, Log: zerolog.Nop()})
	router := api.NewRouter(config.ServerConfig{CacheTTLSeconds: 1}, h, ws, mw.NewIPRateLimiter(rate.Limit(1000), 1000, time.Minute))

	srv := httptest.NewServer(router)
	defer srv.Close()

	// 1. Log in over HTTP.
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "admin123"})
	resp, err := http.Post(srv.URL+"/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var login struct {
		Token   string `json:"token"`
		AdminID string `json:"adminId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	resp.Body.Close()
	require.Equal(t, "admin-001", login.AdminID)

	// 2. Provision a device token.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/devices/device-001/token", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var provisioned struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&provisioned))
	resp.Body.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	// 3. Admin joins its room.
	adminConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer adminConn.Close()
	send(t, adminConn, relay.EventAdminAuthenticate, map[string]string{"token": login.Token})
	await(t, adminConn, relay.EventAdminAuthenticated)
	send(t, adminConn, relay.EventAdminJoin, map[string]string{"adminId": "admin-001"})
	await(t, adminConn, relay.EventDevicesList)

	// 4. Device registration without a token is refused, with one it succeeds.
	deviceConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	send(t, deviceConn, relay.EventDeviceRegister, map[string]any{"deviceId": "device-001", "adminId": "admin-001"})
	var reg relay.RegisteredReply
	require.NoError(t, json.Unmarshal(await(t, deviceConn, relay.EventDeviceRegistered).Data, &reg))
	assert.False(t, reg.Success)

	send(t, deviceConn, relay.EventDeviceRegister, map[string]any{"deviceId": "device-001", "adminId": "admin-001", "token": provisioned.Token})
	require.NoError(t, json.Unmarshal(await(t, deviceConn, relay.EventDeviceRegistered).Data, &reg))
	require.True(t, reg.Success)
	await(t, adminConn, relay.EventDeviceConnect)

	rec, err := st.GetDevice(ctx, "device-001")
	require.NoError(t, err)
	assert.True(t, rec.Connected)
	_, err = st.GetActiveSession(ctx, "device-001", time.Now())
	require.NoError(t, err)

	// 5. Run a command and check the record lifecycle.
	send(t, adminConn, relay.EventDeviceCommand, map[string]string{"deviceId": "device-001", "command": "uname -a"})
	var cmd relay.CommandReply
	require.NoError(t, json.Unmarshal(await(t, adminConn, relay.EventCommandResult).Data, &cmd))
	assert.Equal(t, 0, cmd.Result.ExitCode)
	pending, err := st.ListPendingCommands(ctx, "device-001")
	require.NoError(t, err)
	assert.Empty(t, pending)

	// 6. The poller pushes a status update to the room.
	svc := poller.NewService(config.PollerConfig{Enabled: true, Interval: time.Hour}, rl, sim, st, zerolog.Nop())
	assert.Equal(t, 1, svc.PollOnce(ctx))
	await(t, adminConn, relay.EventDeviceStatus)

	// 7. The device goes away.
	require.NoError(t, deviceConn.Close())
	await(t, adminConn, relay.EventDeviceDisconnect)

	require.Eventually(t, func() bool {
		rec, err := st.GetDevice(ctx, "device-001")
		return err == nil && !rec.Connected
	}, 2*time.Second, 20*time.Millisecond)
	_, err = st.GetActiveSession(ctx, "device-001", time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)

	activity, err := st.ListActivity(ctx, "device-001", 50)
	require.NoError(t, err)
	actions := make([]string, 0, len(activity))
	for _, a := range activity {
		actions = append(actions, a.Action)
	}
	assert.Contains(t, actions, "device_registered")
	assert.Contains(t, actions, "command")
	assert.Contains(t, actions, "device_disconnected")

	// 8. Retention leaves fresh records alone and removes aged ones.
	old := time.Now().Add(-31 * 24 * time.Hour)
	require.NoError(t, st.AppendActivity(ctx, &model.Activity{DeviceID: "device-001", AdminID: "admin-001", Action: "screenshot", CreatedAt: old}))
	res, err := retention.NewJob(st, zerolog.Nop()).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ActivitiesDeleted)

	after, err := st.ListActivity(ctx, "device-001", 50)
	require.NoError(t, err)
	assert.Len(t, after, len(activity))
}
