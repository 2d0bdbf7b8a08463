package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var histogramBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800}

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	deployments    *prometheus.CounterVec
	deployDuration *prometheus.HistogramVec
	validations    *prometheus.CounterVec
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wplaunch",
			Name:      "deployments_total",
			Help:      "Deployment runs by final outcome",
		}, []string{"outcome"}),
		deployDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wplaunch",
			Name:      "deployment_duration_seconds",
			Help:      "Wall time of deployment runs",
			Buckets:   histogramBuckets,
		}, []string{"outcome"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wplaunch",
			Name:      "credential_validations_total",
			Help:      "Hosting credential validations by result",
		}, []string{"result"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wplaunch",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wplaunch",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.deployments = register(reg, m.deployments)
	m.deployDuration = register(reg, m.deployDuration)
	m.validations = register(reg, m.validations)
	m.requestTotal = register(reg, m.requestTotal)
	m.requestLatency = register(reg, m.requestLatency)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

// Deployment records a finished run; outcome is the job status it ended in.
func (m *Metrics) Deployment(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.deployments.WithLabelValues(outcome).Inc()
	m.deployDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) Validation(result string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(result).Inc()
}

func (m *Metrics) Request(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"method": method, "route": route, "status": strconv.Itoa(status)}
	m.requestTotal.With(labels).Inc()
	m.requestLatency.With(labels).Observe(d.Seconds())
}
