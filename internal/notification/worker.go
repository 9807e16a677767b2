package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"device-relay-backend/internal/model"
	"device-relay-backend/internal/store"
)

var (
	pushSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_push_notifications_total",
		Help: "Web push deliveries by result",
	}, []string{"result"}) // result: sent, failed, expired

	pushDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_push_jobs_dropped_total",
		Help: "Push jobs dropped because the queue was full",
	})
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Job is a device connect or disconnect to announce to an admin.
type Job struct {
	AdminID  string
	DeviceID string
	Kind     string
}

// Payload is the JSON body delivered to the browser.
type Payload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	DeviceID string `json:"deviceId"`
	Event    string `json:"event"`
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Job
	store   store.Store
	webpush *webpush.Options
	sender  NotificationSender
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new worker pool. The queue holds queueSize jobs.
func NewWorkerPool(size, queueSize int, s store.Store, webpushOptions *webpush.Options, log zerolog.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Job, queueSize),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
		log:     log,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	wp.log.Debug().Int("worker", id).Msg("push worker started")
	for {
		select {
		case job := <-wp.jobs:
			wp.sendNotificationsForJob(ctx, job)
		case <-ctx.Done():
			wp.log.Debug().Int("worker", id).Msg("push worker shutting down")
			return
		}
	}
}

// Dispatch queues a job. It never blocks; a full queue drops the job.
func (wp *WorkerPool) Dispatch(job Job) bool {
	select {
	case wp.jobs <- job:
		return true
	default:
		pushDropped.Inc()
		wp.log.Warn().Str("admin_id", job.AdminID).Str("device_id", job.DeviceID).Msg("push queue full, dropping job")
		return false
	}
}

// DeviceEvent queues a push for a device connect or disconnect.
func (wp *WorkerPool) DeviceEvent(adminID, deviceID, kind string) {
	wp.Dispatch(Job{AdminID: adminID, DeviceID: deviceID, Kind: kind})
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Job {
	return wp.jobs
}

func buildPayload(job Job) ([]byte, error) {
	p := Payload{DeviceID: job.DeviceID, Event: job.Kind}
	switch job.Kind {
	case "device:connect":
		p.Title = "Device connected"
		p.Body = fmt.Sprintf("%s is online", job.DeviceID)
	case "device:disconnect":
		p.Title = "Device disconnected"
		p.Body = fmt.Sprintf("%s went offline", job.DeviceID)
	default:
		p.Title = "Device update"
		p.Body = job.DeviceID
	}
	return json.Marshal(p)
}

func (wp *WorkerPool) sendNotificationsForJob(ctx context.Context, job Job) {
	subscriptions, err := wp.store.ListSubscriptionsForAdmin(ctx, job.AdminID)
	if err != nil {
		wp.log.Error().Err(err).Str("admin_id", job.AdminID).Msg("failed to fetch subscriptions")
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := buildPayload(job)
	if err != nil {
		wp.log.Error().Err(err).Msg("failed to encode push payload")
		return
	}

	wp.log.Debug().Int("count", len(subscriptions)).Str("admin_id", job.AdminID).Str("device_id", job.DeviceID).Msg("sending push notifications")
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		pushSent.WithLabelValues("failed").Inc()
		wp.log.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to send push notification")
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		pushSent.WithLabelValues("expired").Inc()
		wp.log.Info().Str("endpoint", sub.Endpoint).Msg("push subscription expired, deleting")
		if err := wp.store.DeleteSubscription(ctx, sub.AdminID, sub.Endpoint); err != nil {
			wp.log.Error().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to delete expired subscription")
		}
		return
	}
	pushSent.WithLabelValues("sent").Inc()
}
