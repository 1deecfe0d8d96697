package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveCalls        prometheus.Gauge
	CallEvents         *prometheus.CounterVec
	ProviderErrors     *prometheus.CounterVec
	TeardownErrors     *prometheus.CounterVec
	ConnectedEndpoints *prometheus.GaugeVec
	SignalDeliveries   *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	RingDuration       prometheus.Histogram
}

// NewMetrics registers the instruments on reg. Pass prometheus.DefaultRegisterer in
// the process and a fresh registry in tests.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveCalls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of call sessions between initiation and teardown.",
		}),
		CallEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle events by type.",
		}, []string{"event"}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "External provider errors by provider and operation.",
		}, []string{"provider", "op"}),
		TeardownErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_step_errors_total",
			Help:      "Failed teardown sub-steps by step.",
		}, []string{"step"}),
		ConnectedEndpoints: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_endpoints",
			Help:      "Locally connected signaling endpoints by kind.",
		}, []string{"kind"}),
		SignalDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_deliveries_total",
			Help:      "Targeted signal deliveries by message type and result.",
		}, []string{"type", "result"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		RingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ring_duration_seconds",
			Help:      "Time from ringing to the target's answer.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 45, 60},
		}),
	}
}

func (m *Metrics) CallEvent(event string) {
	if m == nil {
		return
	}
	m.CallEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.ActiveCalls.Inc()
}

func (m *Metrics) CallEnded() {
	if m == nil {
		return
	}
	m.ActiveCalls.Dec()
}

func (m *Metrics) ProviderError(provider, op string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, op).Inc()
}

func (m *Metrics) TeardownError(step string) {
	if m == nil {
		return
	}
	m.TeardownErrors.WithLabelValues(step).Inc()
}

func (m *Metrics) EndpointConnected(kind string, delta float64) {
	if m == nil {
		return
	}
	m.ConnectedEndpoints.WithLabelValues(kind).Add(delta)
}

func (m *Metrics) SignalDelivery(msgType string, delivered bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "undelivered"
	}
	m.SignalDeliveries.WithLabelValues(msgType, result).Inc()
}

func (m *Metrics) WSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveRingDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RingDuration.Observe(d.Seconds())
}

func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
