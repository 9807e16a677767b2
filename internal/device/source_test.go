package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSimulator() *Simulator {
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return NewSimulator(Options{
		BaseLatitude:  37.7749,
		BaseLongitude: -122.4194,
		Seed:          42,
		Clock:         func() time.Time { return fixed },
	})
}

func TestSimulator_UnknownDevice(t *testing.T) {
	s := newTestSimulator()
	ctx := context.Background()

	d, err := s.Describe(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, d)

	files, err := s.ListFiles(ctx, "nope", "/storage/emulated/0")
	require.NoError(t, err)
	assert.NotNil(t, files)
	assert.Empty(t, files)

	res, err := s.Execute(ctx, "nope", "pwd")
	require.NoError(t, err)
	assert.Equal(t, 127, res.ExitCode)

	_, err = s.Screenshot(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownDevice)
	_, err = s.CurrentLocation(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.ErrorIs(t, s.UpdateConnection(ctx, "nope", true), ErrUnknownDevice)
}

func TestSimulator_ExecutePwdIsDeviceIndependent(t *testing.T) {
	s := newTestSimulator()
	ctx := context.Background()
	require.NoError(t, s.Register(ctx, "custom-1", Profile{Name: "Custom"}))

	for _, id := range []string{"device-001", "device-002", "device-003", "custom-1"} {
		res, err := s.Execute(ctx, id, "pwd")
		require.NoError(t, err)
		assert.Equal(t, "/storage/emulated/0", res.Output, id)
		assert.Equal(t, 0, res.ExitCode, id)
	}
}

func TestSimulator_Execute(t *testing.T) {
	s := newTestSimulator()
	ctx := context.Background()

	testCases := []struct {
		name     string
		command  string
		exitCode int
		output   string
	}{
		{name: "case-insensitive", command: "PWD", exitCode: 0, output: "/storage/emulated/0"},
		{name: "extra whitespace", command: "  whoami  ", exitCode: 0, output: "shell"},
		{name: "failing canned", command: "su", exitCode: 1, output: "su: permission denied"},
		{name: "unknown", command: "rm -rf /", exitCode: 127, output: "sh: rm: not found"},
		{name: "prefix is not a match", command: "pwd -P", exitCode: 127, output: "sh: pwd: not found"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := s.Execute(ctx, "device-001", tc.command)
			require.NoError(t, err)
			assert.Equal(t, tc.exitCode, res.ExitCode)
			assert.Equal(t, tc.output, res.Output)
			assert.Equal(t, tc.command, res.Command)
		})
	}
}

func TestSimulator_ListFiles(t *testing.T) {
	s := newTestSimulator()
	ctx := context.Background()

	root, err := s.ListFiles(ctx, "device-001", "")
	require.NoError(t, err)
	require.NotEmpty(t, root)
	assert.Equal(t, "Android", root[0].Name)
	assert.True(t, root[0].IsDirectory)

	trailing, err := s.ListFiles(ctx, "device-001", "/storage/emulated/0/DCIM/")
	require.NoError(t, err)
	assert.Len(t, trailing, 2)

	unknown, err := s.ListFiles(ctx, "device-001", "/proc/self")
	require.NoError(t, err)
	assert.Empty(t, unknown)

	_, err = s.ListFiles(ctx, "device-001", "../etc")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Returned slices are copies.
	root[0].Name = "mutated"
	again, _ := s.ListFiles(ctx, "device-001", "")
	assert.Equal(t, "Android", again[0].Name)
}

func TestSimulator_DescribeAndConnection(t *testing.T) {
	s := newTestSimulator()
	ctx := context.Background()

	d, err := s.Describe(ctx, "device-001")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "Samsung Galaxy S21", d.Name)
	assert.False(t, d.Connected)
	assert.Nil(t, d.LastSeen)
	assert.True(t, d.Battery >= 1 && d.Battery <= 100)
	assert.True(t, d.Storage.UsedBytes < d.Storage.TotalBytes)

	require.NoError(t, s.UpdateConnection(ctx, "device-001", true))
	d, _ = s.Describe(ctx, "device-001")
	assert.True(t, d.Connected)
	require.NotNil(t, d.LastSeen)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "device-001", list[0].ID)
}

func TestSimulator_RegisterMergesProfile(t *testing.T) {
	s := newTestSimulator()
	ctx := context.Background()

	require.NoError(t, s.Register(ctx, "device-001", Profile{AndroidVersion: "14"}))
	d, _ := s.Describe(ctx, "device-001")
	assert.Equal(t, "Samsung Galaxy S21", d.Name)
	assert.Equal(t, "14", d.AndroidVersion)

	assert.ErrorIs(t, s.Register(ctx, " ", Profile{}), ErrInvalidArgument)
}

func TestSimulator_Location(t *testing.T) {
	s := newTestSimulator()
	loc, err := s.CurrentLocation(context.Background(), "device-002")
	require.NoError(t, err)
	assert.InDelta(t, 37.7749, loc.Latitude, locationJitterDeg)
	assert.InDelta(t, -122.4194, loc.Longitude, locationJitterDeg)
	assert.True(t, loc.Accuracy >= 5 && loc.Accuracy <= 50)
}

func TestSimulator_CameraAudioNotify(t *testing.T) {
	s := newTestSimulator()
	ctx := context.Background()

	img, err := s.CaptureCamera(ctx, "device-001", CameraFront)
	require.NoError(t, err)
	assert.Contains(t, img, "device-001-front")
	_, err = s.CaptureCamera(ctx, "device-001", "side")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	clip, err := s.RecordAudio(ctx, "device-001", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, clip.DurationSeconds)
	assert.Equal(t, int64(320_000), clip.ApproxSizeBytes)
	_, err = s.RecordAudio(ctx, "device-001", 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.RecordAudio(ctx, "device-001", maxAudioSeconds+1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	res, err := s.SendNotification(ctx, "device-001", "hello")
	require.NoError(t, err)
	assert.True(t, res.Delivered)
	_, err = s.SendNotification(ctx, "device-001", "  ")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	apps, err := s.ListApps(ctx, "device-001")
	require.NoError(t, err)
	assert.Equal(t, len(appCatalog), len(apps))
}

func TestSimulator_ConcurrentUpdateConnection(t *testing.T) {
	s := newTestSimulator()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(on bool) {
			defer wg.Done()
			assert.NoError(t, s.UpdateConnection(ctx, "device-001", on))
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			_, err := s.Describe(ctx, "device-001")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.NoError(t, s.UpdateConnection(ctx, "device-001", true))
	d, _ := s.Describe(ctx, "device-001")
	assert.True(t, d.Connected)
}

func TestSimulator_CancelledContext(t *testing.T) {
	s := newTestSimulator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Screenshot(ctx, "device-001")
	assert.ErrorIs(t, err, context.Canceled)
}
