package api

import (
	"context"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"device-relay-backend/internal/auth"
	"device-relay-backend/internal/device"
	"device-relay-backend/internal/relay"
	"device-relay-backend/internal/store"
)

// RelayView is the read side of the relay used by HTTP handlers.
type RelayView interface {
	DevicesForAdmin(ctx context.Context, adminID string) ([]device.Descriptor, error)
	Registration(deviceID string) (relay.Registration, bool)
	ConnectionCount() int
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store            store.Store
	tokens           *auth.TokenService
	credentials      *auth.Credentials
	relay            RelayView
	source           device.Source
	webpush          *webpush.Options
	refreshThreshold time.Duration
	log              zerolog.Logger
}

// Deps bundles what NewHandler needs.
type Deps struct {
	Store            store.Store
	Tokens           *auth.TokenService
	Credentials      *auth.Credentials
	Relay            RelayView
	Source           device.Source
	WebPush          *webpush.Options
	RefreshThreshold time.Duration
	Log              zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	if d.RefreshThreshold <= 0 {
		d.RefreshThreshold = 2 * time.Hour
	}
	return &Handler{
		store:            d.Store,
		tokens:           d.Tokens,
		credentials:      d.Credentials,
		relay:            d.Relay,
		source:           d.Source,
		webpush:          d.WebPush,
		refreshThreshold: d.RefreshThreshold,
		log:              d.Log,
	}
}
