package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	chatRequestsTotal     *prometheus.CounterVec
	chatLatencySeconds    *prometheus.HistogramVec
	chatErrorsTotal       *prometheus.CounterVec
	chatConnectionsActive prometheus.Gauge
	chatMessagesSentTotal prometheus.Counter
)

// RegisterMetrics initialises the Prometheus collectors used by the chat API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		chatRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Total number of chat API requests served.",
		}, []string{"method", "route", "status"})

		chatLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_latency_seconds",
			Help:    "Latency distribution for chat API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		chatErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_errors_total",
			Help: "Total number of error responses returned by chat endpoints.",
		}, []string{"method", "route", "status"})

		chatConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Number of websocket chat channels currently open on this node.",
		})

		chatMessagesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total number of chat messages persisted.",
		})

		prometheus.MustRegister(chatRequestsTotal, chatLatencySeconds, chatErrorsTotal, chatConnectionsActive, chatMessagesSentTotal)
	})
}

// ChatRequests exposes the counter for chat API requests.
func ChatRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return chatRequestsTotal
}

// ChatLatency exposes the latency histogram for chat API requests.
func ChatLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return chatLatencySeconds
}

// ChatErrors exposes the counter for chat API error responses.
func ChatErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return chatErrorsTotal
}

// ChatConnectionsActive exposes the open-channel gauge.
func ChatConnectionsActive() prometheus.Gauge {
	RegisterMetrics()
	return chatConnectionsActive
}

// ChatMessagesSent exposes the persisted-message counter.
func ChatMessagesSent() prometheus.Counter {
	RegisterMetrics()
	return chatMessagesSentTotal
}
