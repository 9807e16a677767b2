package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"golang.org/x/time/rate"

	"device-relay-backend/config"
	"device-relay-backend/internal/api"
	"device-relay-backend/internal/auth"
	"device-relay-backend/internal/db"
	"device-relay-backend/internal/device"
	"device-relay-backend/internal/logging"
	"device-relay-backend/internal/mw"
	"device-relay-backend/internal/notification"
	"device-relay-backend/internal/poller"
	"device-relay-backend/internal/relay"
	"device-relay-backend/internal/retention"
	"device-relay-backend/internal/store"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	logger.Info().Str("path", configPath).Msg("configuration loaded")

	// Initialize database
	gormDB, err := db.Init(&cfg.Database, logging.Component(logger, "db"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB, store.Retention{
		Activity: time.Duration(cfg.Retention.ActivityDays) * 24 * time.Hour,
		Commands: time.Duration(cfg.Retention.CommandDays) * 24 * time.Hour,
	})

	identity := auth.Identity{AdminID: cfg.Auth.AdminID, Username: cfg.Auth.AdminUsername, Password: cfg.Auth.AdminPassword}
	if _, err := auth.SeedAdmin(ctx, appStore, identity); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed admin")
	}
	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	source := device.NewSimulator(device.Options{
		BaseLatitude:  cfg.Device.BaseLatitude,
		BaseLongitude: cfg.Device.BaseLongitude,
		KnownDevices:  cfg.Device.KnownDevices,
	})

	// Web push is optional; without VAPID keys connect/disconnect events are only relayed.
	var webpushOptions *webpush.Options
	var pool *notification.WorkerPool
	relayOpts := relay.Options{
		RequireDeviceToken: cfg.Relay.RequireDeviceToken,
		SessionTTL:         time.Duration(cfg.Relay.SessionTTLHours) * time.Hour,
	}
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool = notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, appStore, webpushOptions, logging.Component(logger, "push"))
		pool.Start(ctx)
		relayOpts.Notifier = pool
	} else {
		logger.Warn().Msg("VAPID keys are not configured, web push is disabled")
	}

	rl := relay.New(tokens, source, appStore, logging.Component(logger, "relay"), relayOpts)
	ws := relay.NewWSServer(rl, relay.WSOptions{
		SendQueueSize:   cfg.Relay.SendQueueSize,
		WriteTimeout:    time.Duration(cfg.Relay.WriteTimeoutSec) * time.Second,
		PongTimeout:     time.Duration(cfg.Relay.PongTimeoutSec) * time.Second,
		MaxMessageBytes: int64(cfg.Relay.MaxMessageBytes),
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	})

	pollerSvc := poller.NewService(cfg.Poller, rl, source, appStore, logging.Component(logger, "poller"))
	go pollerSvc.Run(ctx)

	retentionLog := logging.Component(logger, "retention")
	scheduler, err := retention.NewScheduler(cfg.Retention, retention.NewJob(appStore, retentionLog), retentionLog)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule retention cleanup")
	}
	scheduler.Start()

	limiter := mw.NewIPRateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst, 10*time.Minute)
	go sweepLimiter(ctx, limiter)

	handler := api.NewHandler(api.Deps{
		Store:            appStore,
		Tokens:           tokens,
		Credentials:      auth.NewCredentials(identity),
		Relay:            rl,
		Source:           source,
		WebPush:          webpushOptions,
		RefreshThreshold: cfg.Auth.RefreshThreshold,
		Log:              logging.Component(logger, "api"),
	})
	router := api.NewRouter(cfg.Server, handler, ws, limiter)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server ListenAndServe")
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info().Msg("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	rl.Shutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server Shutdown")
	}
	ws.Wait()
	scheduler.Stop()
	cancel()
	if pool != nil {
		pool.Wait()
	}

	logger.Info().Msg("server gracefully stopped")
}

func sweepLimiter(ctx context.Context, limiter *mw.IPRateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
		}
	}
}
