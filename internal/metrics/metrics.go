// Package metrics exposes Prometheus collectors for the HTTP surface, the
// socket gateway and trip lifecycle transitions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricHTTPRequestDuration = "http_request_duration_seconds"
	MetricHTTPRequestsTotal   = "http_requests_total"
	MetricSocketConnections   = "socket_connections"
	MetricSocketEventsTotal   = "socket_events_total"
	MetricTripTransitions     = "trip_transitions_total"
	MetricExperienceFinishes  = "experience_finishes_total"
)

// Outcome labels
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics holds every collector of the service. All methods are safe for
// concurrent use and tolerate a nil receiver.
type Metrics struct {
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	socketConnections   prometheus.Gauge
	socketEvents        *prometheus.CounterVec
	tripTransitions     *prometheus.CounterVec
	experienceFinishes  *prometheus.CounterVec
}

// NewMetrics creates the collectors without registering them
func NewMetrics() *Metrics {
	return &Metrics{
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestDuration,
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
			},
			[]string{"method", "route", "status"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHTTPRequestsTotal,
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		socketConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricSocketConnections,
				Help: "Currently open socket connections",
			},
		),
		socketEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSocketEventsTotal,
				Help: "Inbound socket events by name and outcome",
			},
			[]string{"event", "outcome"},
		),
		tripTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricTripTransitions,
				Help: "Trip lifecycle transitions by target status and outcome",
			},
			[]string{"transition", "outcome"},
		),
		experienceFinishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricExperienceFinishes,
				Help: "Finished experiences by podium place, 0 for no place",
			},
			[]string{"place"},
		),
	}
}

// Register registers all collectors with reg
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.httpRequestDuration,
		m.httpRequestsTotal,
		m.socketConnections,
		m.socketEvents,
		m.tripTransitions,
		m.experienceFinishes,
	}
}

func (m *Metrics) ObserveHTTPRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequestDuration.WithLabelValues(method, route, status).Observe(seconds)
	m.httpRequestsTotal.WithLabelValues(method, route, status).Inc()
}

func (m *Metrics) SocketConnected() {
	if m != nil {
		m.socketConnections.Inc()
	}
}

func (m *Metrics) SocketDisconnected() {
	if m != nil {
		m.socketConnections.Dec()
	}
}

func (m *Metrics) IncSocketEvent(event, outcome string) {
	if m != nil {
		m.socketEvents.WithLabelValues(event, outcome).Inc()
	}
}

func (m *Metrics) IncTripTransition(transition, outcome string) {
	if m != nil {
		m.tripTransitions.WithLabelValues(transition, outcome).Inc()
	}
}

func (m *Metrics) IncExperienceFinish(place string) {
	if m != nil {
		m.experienceFinishes.WithLabelValues(place).Inc()
	}
}
