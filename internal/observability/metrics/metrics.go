// Package metrics exposes the Prometheus instrumentation for the
// queue engine and the HTTP surface. All methods are nil-receiver
// safe so wiring metrics stays optional in tests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// QueueMetrics counts engine operations and times the expensive ones.
type QueueMetrics struct {
	enqueuesTotal       *prometheus.CounterVec
	actionsTotal        *prometheus.CounterVec
	restructuresTotal   prometheus.Counter
	notificationsTotal  *prometheus.CounterVec
	actionDuration      *prometheus.HistogramVec
	restructureDuration prometheus.Histogram
}

func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	m := &QueueMetrics{
		enqueuesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waitline",
			Subsystem: "queue",
			Name:      "enqueues_total",
			Help:      "Total queue entries created",
		}, []string{"outcome"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waitline",
			Subsystem: "queue",
			Name:      "actions_total",
			Help:      "Total queue actions applied",
		}, []string{"action", "outcome"}),
		restructuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "waitline",
			Subsystem: "queue",
			Name:      "restructures_total",
			Help:      "Total restructure runs",
		}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waitline",
			Subsystem: "queue",
			Name:      "notifications_total",
			Help:      "Total notification intents published",
		}, []string{"kind"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "waitline",
			Subsystem: "queue",
			Name:      "action_duration_seconds",
			Help:      "Latency of queue actions including the triggered restructure",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		restructureDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "waitline",
			Subsystem: "queue",
			Name:      "restructure_duration_seconds",
			Help:      "Latency of restructure runs",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.enqueuesTotal, m.actionsTotal, m.restructuresTotal,
		m.notificationsTotal, m.actionDuration, m.restructureDuration)
	return m
}

func (m *QueueMetrics) ObserveEnqueue(outcome string, entries int) {
	if m == nil {
		return
	}
	m.enqueuesTotal.WithLabelValues(outcome).Add(float64(entries))
}

func (m *QueueMetrics) ObserveAction(action, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(action, outcome).Inc()
	m.actionDuration.WithLabelValues(action).Observe(seconds)
}

func (m *QueueMetrics) ObserveRestructure(seconds float64) {
	if m == nil {
		return
	}
	m.restructuresTotal.Inc()
	m.restructureDuration.Observe(seconds)
}

func (m *QueueMetrics) ObserveNotifications(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.notificationsTotal.WithLabelValues(kind).Add(float64(n))
}

// HTTPMetrics times the HTTP surface per route pattern.
type HTTPMetrics struct {
	requestDuration *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "waitline",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestDuration)
	return m
}

func (m *HTTPMetrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, status).Observe(seconds)
}
