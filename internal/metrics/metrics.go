package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Assignments counts assignment attempts by mode (auto, manual) and outcome
	Assignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_assignments_total", Help: "Assignment attempts by mode and outcome."},
		[]string{"mode", "outcome"},
	)
	// Conflicts counts schedule conflicts found while assigning
	Conflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_conflicts_total", Help: "Schedule conflicts detected by mode."},
		[]string{"mode"},
	)
	// Occupancy records the share of seats used by each committed assignment
	Occupancy = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "dispatch_occupancy_ratio", Help: "Seat occupancy per committed assignment.", Buckets: []float64{0.1, 0.2, 0.25, 0.34, 0.5, 0.67, 0.8, 1}},
	)

	// SimulationTicks counts tracking ticks by result (ok, error, skipped)
	SimulationTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tracking_ticks_total", Help: "Location simulation ticks by result."},
		[]string{"result"},
	)
	// SimulationTickDuration records how long a full tick takes
	SimulationTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "tracking_tick_duration_seconds", Help: "Duration of a simulation tick.", Buckets: prometheus.DefBuckets},
	)
	// AlertsRaised counts newly created location alerts by type
	AlertsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tracking_alerts_raised_total", Help: "Location alerts raised by type."},
		[]string{"type"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers all collectors on Registry once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(
			HTTPRequests, HTTPDuration,
			Assignments, Conflicts, Occupancy,
			SimulationTicks, SimulationTickDuration, AlertsRaised,
			WebhookDeliveries, WebhookLatency,
		)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
