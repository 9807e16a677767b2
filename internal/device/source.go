package device

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"device-relay-backend/internal/keyed"
	"device-relay-backend/internal/parse"
)

// Source produces device state and synthetic responses to control requests.
type Source interface {
	Register(ctx context.Context, deviceID string, profile Profile) error
	Describe(ctx context.Context, deviceID string) (*Descriptor, error)
	List(ctx context.Context) ([]Descriptor, error)
	Screenshot(ctx context.Context, deviceID string) (string, error)
	ListFiles(ctx context.Context, deviceID, path string) ([]FileEntry, error)
	Execute(ctx context.Context, deviceID, command string) (CommandResult, error)
	CurrentLocation(ctx context.Context, deviceID string) (Location, error)
	ListApps(ctx context.Context, deviceID string) ([]AppEntry, error)
	CaptureCamera(ctx context.Context, deviceID string, facing CameraFacing) (string, error)
	RecordAudio(ctx context.Context, deviceID string, durationSeconds int) (AudioClip, error)
	SendNotification(ctx context.Context, deviceID, message string) (NotificationResult, error)
	UpdateConnection(ctx context.Context, deviceID string, connected bool) error
}

// Options configures a Simulator.
type Options struct {
	BaseLatitude  float64
	BaseLongitude float64
	// KnownDevices are extra ids known up front with a generic profile.
	KnownDevices []string
	// Seed fixes the random sequence; zero picks a random seed.
	Seed  uint64
	Clock func() time.Time
}

const (
	maxAudioSeconds = 300
	// 16 kHz, 16-bit mono PCM.
	audioBytesPerSecond = 32_000
	locationJitterDeg   = 0.005
)

type deviceState struct {
	profile   Profile
	connected bool
	lastSeen  *time.Time
	battery   int
}

// Simulator is an in-memory Source backed by static tables and a PRNG.
// The connected flag and last-seen time are the only mutable per-device
// fields; they are changed under a per-device lock.
type Simulator struct {
	mu      sync.RWMutex
	devices map[string]*deviceState
	locks   *keyed.Mutex

	rngMu sync.Mutex
	rng   *rand.Rand

	baseLat float64
	baseLon float64
	now     func() time.Time
}

// NewSimulator creates a simulator seeded with the demo devices.
func NewSimulator(opts Options) *Simulator {
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &Simulator{
		devices: make(map[string]*deviceState),
		locks:   keyed.New(),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		baseLat: opts.BaseLatitude,
		baseLon: opts.BaseLongitude,
		now:     clock,
	}

	for id, p := range seedProfiles {
		s.devices[id] = &deviceState{profile: p, battery: 40 + s.intn(60)}
	}
	for _, id := range opts.KnownDevices {
		if _, ok := s.devices[id]; !ok && id != "" {
			s.devices[id] = &deviceState{profile: genericProfile(id), battery: 40 + s.intn(60)}
		}
	}
	return s
}

func genericProfile(id string) Profile {
	return Profile{Name: id, Model: "Android Device", Manufacturer: "Generic", AndroidVersion: "13", ScreenResolution: "1080x2340"}
}

func (s *Simulator) intn(n int) int {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.IntN(n)
}

func (s *Simulator) float() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *Simulator) lookup(deviceID string) (*deviceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.devices[deviceID]
	return st, ok
}

func (s *Simulator) known(deviceID string) bool {
	_, ok := s.lookup(deviceID)
	return ok
}

// Register adds a device or replaces its profile. Empty profile fields keep
// their previous values.
func (s *Simulator) Register(ctx context.Context, deviceID string, profile Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidArgument)
	}

	unlock := s.locks.Lock(deviceID)
	defer unlock()

	st, ok := s.lookup(deviceID)
	if !ok {
		st = &deviceState{profile: genericProfile(deviceID), battery: 40 + s.intn(60)}
		s.mu.Lock()
		s.devices[deviceID] = st
		s.mu.Unlock()
	}
	mergeProfile(&st.profile, profile)
	return nil
}

func mergeProfile(dst *Profile, src Profile) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.Manufacturer != "" {
		dst.Manufacturer = src.Manufacturer
	}
	if src.AndroidVersion != "" {
		dst.AndroidVersion = src.AndroidVersion
	}
	if src.ScreenResolution != "" {
		dst.ScreenResolution = src.ScreenResolution
	}
}

// Describe returns nil for an unknown device.
func (s *Simulator) Describe(ctx context.Context, deviceID string) (*Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, ok := s.lookup(deviceID)
	if !ok {
		return nil, nil
	}

	unlock := s.locks.Lock(deviceID)
	// Battery drifts by at most one point per observation.
	st.battery = clamp(st.battery+s.intn(3)-1, 1, 100)
	d := Descriptor{
		ID:        deviceID,
		Profile:   st.profile,
		Battery:   st.battery,
		Connected: st.connected,
	}
	if st.lastSeen != nil {
		seen := *st.lastSeen
		d.LastSeen = &seen
	}
	unlock()

	total := int64(128) << 30
	d.Charging = s.intn(2) == 1
	d.Storage = Storage{TotalBytes: total, UsedBytes: total * int64(30+s.intn(50)) / 100}
	netType := networkTypes[s.intn(len(networkTypes))]
	d.Network = Network{Type: netType, SignalStrength: -50 - s.intn(40), IPAddress: fmt.Sprintf("192.168.1.%d", 100+s.intn(100))}
	if netType == "wifi" {
		d.Network.SSID = "HomeNetwork"
	}
	return &d, nil
}

// List describes every known device ordered by id.
func (s *Simulator) List(ctx context.Context) ([]Descriptor, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	out := make([]Descriptor, 0, len(ids))
	for _, id := range ids {
		d, err := s.Describe(ctx, id)
		if err != nil {
			return nil, err
		}
		if d != nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *Simulator) Screenshot(ctx context.Context, deviceID string) (string, error) {
	if err := s.require(ctx, deviceID); err != nil {
		return "", err
	}
	return fmt.Sprintf("https://picsum.photos/seed/%s-screen-%d/1080/2340", deviceID, s.intn(1_000_000)), nil
}

// ListFiles returns the listing for path. Unknown devices and unknown paths
// yield an empty listing.
func (s *Simulator) ListFiles(ctx context.Context, deviceID, path string) ([]FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normalized, err := parse.Path(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if !s.known(deviceID) {
		return []FileEntry{}, nil
	}
	entries := fileTable[normalized]
	out := make([]FileEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// Execute looks the command up in the canned table. Unknown commands and
// unknown devices yield exit code 127.
func (s *Simulator) Execute(ctx context.Context, deviceID, command string) (CommandResult, error) {
	if err := ctx.Err(); err != nil {
		return CommandResult{}, err
	}
	result := CommandResult{Command: command, Timestamp: s.now()}
	key := parse.Command(command)

	canned, ok := commandTable[key]
	if !ok || !s.known(deviceID) {
		result.ExitCode = exitNotFound
		result.Output = fmt.Sprintf("sh: %s: not found", parse.Program(command))
		return result, nil
	}
	result.Output = canned.output
	result.ExitCode = canned.exitCode
	return result, nil
}

func (s *Simulator) CurrentLocation(ctx context.Context, deviceID string) (Location, error) {
	if err := s.require(ctx, deviceID); err != nil {
		return Location{}, err
	}
	return Location{
		Latitude:  round6(s.baseLat + (s.float()*2-1)*locationJitterDeg),
		Longitude: round6(s.baseLon + (s.float()*2-1)*locationJitterDeg),
		Accuracy:  math.Round(5 + s.float()*45),
		Timestamp: s.now(),
	}, nil
}

func (s *Simulator) ListApps(ctx context.Context, deviceID string) ([]AppEntry, error) {
	if err := s.require(ctx, deviceID); err != nil {
		return nil, err
	}
	out := make([]AppEntry, len(appCatalog))
	copy(out, appCatalog)
	return out, nil
}

func (s *Simulator) CaptureCamera(ctx context.Context, deviceID string, facing CameraFacing) (string, error) {
	if err := s.require(ctx, deviceID); err != nil {
		return "", err
	}
	if facing == "" {
		facing = CameraBack
	}
	if facing != CameraFront && facing != CameraBack {
		return "", fmt.Errorf("%w: camera must be %q or %q", ErrInvalidArgument, CameraFront, CameraBack)
	}
	return fmt.Sprintf("https://picsum.photos/seed/%s-%s-%d/1920/1080", deviceID, facing, s.intn(1_000_000)), nil
}

func (s *Simulator) RecordAudio(ctx context.Context, deviceID string, durationSeconds int) (AudioClip, error) {
	if err := s.require(ctx, deviceID); err != nil {
		return AudioClip{}, err
	}
	if durationSeconds <= 0 || durationSeconds > maxAudioSeconds {
		return AudioClip{}, fmt.Errorf("%w: duration must be between 1 and %d seconds", ErrInvalidArgument, maxAudioSeconds)
	}
	return AudioClip{
		AudioRef:        fmt.Sprintf("data:audio/wav;base64,mock-%s-%d", deviceID, s.now().Unix()),
		DurationSeconds: durationSeconds,
		ApproxSizeBytes: int64(durationSeconds) * audioBytesPerSecond,
	}, nil
}

func (s *Simulator) SendNotification(ctx context.Context, deviceID, message string) (NotificationResult, error) {
	if err := s.require(ctx, deviceID); err != nil {
		return NotificationResult{}, err
	}
	if strings.TrimSpace(message) == "" {
		return NotificationResult{}, fmt.Errorf("%w: message is required", ErrInvalidArgument)
	}
	return NotificationResult{Message: message, Delivered: true, Timestamp: s.now()}, nil
}

// UpdateConnection sets the connected flag and stamps last-seen.
func (s *Simulator) UpdateConnection(ctx context.Context, deviceID string, connected bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, ok := s.lookup(deviceID)
	if !ok {
		return ErrUnknownDevice
	}

	unlock := s.locks.Lock(deviceID)
	defer unlock()
	now := s.now()
	st.connected = connected
	st.lastSeen = &now
	return nil
}

func (s *Simulator) require(ctx context.Context, deviceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.known(deviceID) {
		return ErrUnknownDevice
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
