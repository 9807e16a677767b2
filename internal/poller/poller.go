package poller

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"device-relay-backend/config"
	"device-relay-backend/internal/device"
	"device-relay-backend/internal/model"
	"device-relay-backend/internal/relay"
	"device-relay-backend/internal/store"
)

var pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "relay_status_poll_duration_seconds",
	Help:    "Time spent refreshing registered device status",
	Buckets: prometheus.DefBuckets,
})

// Broadcaster is the part of the relay the poller drives. WithDevice runs
// the refresh under the device's lock and skips devices that went away.
type Broadcaster interface {
	Registrations() []relay.Registration
	WithDevice(deviceID string, fn func(reg relay.Registration)) bool
	BroadcastStatus(adminID string, d device.Descriptor) int
}

// Service periodically refreshes the status of registered devices and
// pushes it to the owning admin's room.
type Service struct {
	cfg    config.PollerConfig
	relay  Broadcaster
	source device.Source
	store  store.Store
	log    zerolog.Logger
	now    func() time.Time
}

// NewService creates a status poller.
func NewService(cfg config.PollerConfig, r Broadcaster, source device.Source, st store.Store, log zerolog.Logger) *Service {
	return &Service{cfg: cfg, relay: r, source: source, store: st, log: log, now: time.Now}
}

// Run polls until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info().Msg("status poller is disabled, not starting")
		return
	}
	s.log.Info().Dur("interval", s.cfg.Interval).Msg("starting status poller")

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("status poller shutting down")
			return
		case <-timer.C:
			s.PollOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// PollOnce refreshes every registered device once and returns how many
// status updates were broadcast.
func (s *Service) PollOnce(ctx context.Context) int {
	start := time.Now()
	defer func() { pollDuration.Observe(time.Since(start).Seconds()) }()

	sent := 0
	for _, snap := range s.relay.Registrations() {
		if ctx.Err() != nil {
			break
		}
		live := s.relay.WithDevice(snap.DeviceID, func(reg relay.Registration) {
			if s.refresh(ctx, reg) {
				sent++
			}
		})
		if !live {
			s.log.Debug().Str("device_id", snap.DeviceID).Msg("device disconnected before refresh")
		}
	}
	s.log.Debug().Int("broadcasts", sent).Msg("status poll finished")
	return sent
}

// refresh describes one registered device, persists the descriptor and
// broadcasts it. It reports whether anyone received the update.
func (s *Service) refresh(ctx context.Context, reg relay.Registration) bool {
	d, err := s.source.Describe(ctx, reg.DeviceID)
	if err != nil {
		s.log.Warn().Err(err).Str("device_id", reg.DeviceID).Msg("failed to describe device")
		return false
	}
	if d == nil {
		return false
	}
	d.Connected = true

	if err := s.persist(ctx, reg, d); err != nil {
		s.log.Error().Err(err).Str("device_id", reg.DeviceID).Msg("failed to persist device status")
		return false
	}
	return s.relay.BroadcastStatus(reg.AdminID, *d) > 0
}

func (s *Service) persist(ctx context.Context, reg relay.Registration, d *device.Descriptor) error {
	info, err := json.Marshal(d)
	if err != nil {
		return err
	}
	now := s.now()
	return s.store.UpsertDevice(ctx, &model.Device{
		ID:             reg.DeviceID,
		AdminID:        reg.AdminID,
		Name:           d.Name,
		Model:          d.Model,
		AndroidVersion: d.AndroidVersion,
		Info:           string(info),
		Connected:      true,
		LastSeen:       &now,
	})
}
