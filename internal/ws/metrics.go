package ws

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "events",
		Name:      "connections",
		Help:      "Active event stream connections.",
	})

	eventsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "events",
		Name:      "sent_total",
		Help:      "Events delivered to stream clients by type.",
	}, []string{"type"})

	eventClientsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "events",
		Name:      "dropped_clients_total",
		Help:      "Stream clients closed because their send buffer filled up.",
	})

	once sync.Once
)

func init() {
	once.Do(func() {
		prometheus.MustRegister(eventConnections, eventsSent, eventClientsDropped)
	})
}
