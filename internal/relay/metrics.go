package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections",
		Help: "Current number of open relay connections",
	})

	registeredDevicesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_registered_devices",
		Help: "Current number of registered device connections",
	})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_total",
		Help: "Inbound relay events by name",
	}, []string{"event"})

	operationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_operation_errors_total",
		Help: "Failed relay operations by kind",
	}, []string{"operation", "kind"}) // kind: auth, source, store, decode

	droppedMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_dropped_messages_total",
		Help: "Outbound messages dropped because a peer was closed or full",
	})
)
