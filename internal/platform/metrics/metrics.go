// Package metrics holds the Prometheus collectors for the visit workflow.
// Every method is safe on a nil *Metrics so tests can pass nil.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	VisitsCreated        *prometheus.CounterVec
	Toggles              *prometheus.CounterVec
	CASConflicts         *prometheus.CounterVec
	ForceCloses          prometheus.Counter
	NotificationsCreated *prometheus.CounterVec
	NotificationFailures *prometheus.CounterVec
	NotifyQueueDepth     prometheus.Gauge
	HistoryFailures      prometheus.Counter
	HTTPDuration         *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		VisitsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "visitflow_visits_created_total",
			Help: "Visits created by visit type",
		}, []string{"visit_type"}),
		Toggles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "visitflow_completion_toggles_total",
			Help: "Completion toggles by department and resulting flag value",
		}, []string{"department", "value"}),
		CASConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "visitflow_version_conflicts_total",
			Help: "Optimistic version conflicts seen by visit writers",
		}, []string{"operation"}),
		ForceCloses: f.NewCounter(prometheus.CounterOpts{
			Name: "visitflow_force_closes_total",
			Help: "Force-close operations",
		}),
		NotificationsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "visitflow_notifications_created_total",
			Help: "Notification rows created by type",
		}, []string{"type"}),
		NotificationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "visitflow_notification_failures_total",
			Help: "Notification requests that could not be delivered",
		}, []string{"reason"}),
		NotifyQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "visitflow_notify_queue_depth",
			Help: "Notification requests waiting for a dispatcher worker",
		}),
		HistoryFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "visitflow_history_write_failures_total",
			Help: "Status history entries that failed to persist",
		}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "visitflow_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route", "status"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) IncVisitCreated(visitType string) {
	if m != nil {
		m.VisitsCreated.WithLabelValues(visitType).Inc()
	}
}

func (m *Metrics) IncToggle(department string, value bool) {
	if m != nil {
		v := "0"
		if value {
			v = "1"
		}
		m.Toggles.WithLabelValues(department, v).Inc()
	}
}

func (m *Metrics) IncConflict(operation string) {
	if m != nil {
		m.CASConflicts.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) IncForceClose() {
	if m != nil {
		m.ForceCloses.Inc()
	}
}

func (m *Metrics) AddNotificationsCreated(notificationType string, n int) {
	if m != nil && n > 0 {
		m.NotificationsCreated.WithLabelValues(notificationType).Add(float64(n))
	}
}

func (m *Metrics) IncNotificationFailure(reason string) {
	if m != nil {
		m.NotificationFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.NotifyQueueDepth.Set(float64(n))
	}
}

func (m *Metrics) IncHistoryFailure() {
	if m != nil {
		m.HistoryFailures.Inc()
	}
}

func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m != nil {
		m.HTTPDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
	}
}
