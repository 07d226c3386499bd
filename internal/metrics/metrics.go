// Package metrics exposes Prometheus collectors for the gateway and executor.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	rejections        *prometheus.CounterVec
	reloads           *prometheus.CounterVec
	agentsUp          *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. Collectors that
// are already registered are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetd",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fleetd",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetd",
			Name:      "executions_total",
			Help:      "Deployment executions by deployment and final status.",
		}, []string{"deployment", "status"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fleetd",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of deployment executions.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"deployment"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetd",
			Name:      "rejections_total",
			Help:      "Rejected triggers by reason.",
		}, []string{"reason"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetd",
			Name:      "config_reloads_total",
			Help:      "Configuration reload attempts by result.",
		}, []string{"result"}),
		agentsUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fleetd",
			Name:      "agent_up",
			Help:      "Whether the last health check of an agent succeeded.",
		}, []string{"agent"}),
	}

	var err error
	m.requests, err = register(reg, m.requests)
	if err != nil {
		return nil, err
	}
	m.requestDuration, err = register(reg, m.requestDuration)
	if err != nil {
		return nil, err
	}
	m.executions, err = register(reg, m.executions)
	if err != nil {
		return nil, err
	}
	m.executionDuration, err = register(reg, m.executionDuration)
	if err != nil {
		return nil, err
	}
	m.rejections, err = register(reg, m.rejections)
	if err != nil {
		return nil, err
	}
	m.reloads, err = register(reg, m.reloads)
	if err != nil {
		return nil, err
	}
	m.agentsUp, err = register(reg, m.agentsUp)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveRequest records one served HTTP request
func (m *Metrics) ObserveRequest(method, route, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, code).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveExecution records a finished execution
func (m *Metrics) ObserveExecution(deployment, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(deployment, status).Inc()
	if d > 0 {
		m.executionDuration.WithLabelValues(deployment).Observe(d.Seconds())
	}
}

// IncRejection counts a rejected trigger
func (m *Metrics) IncRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// IncReload counts a configuration reload attempt
func (m *Metrics) IncReload(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.reloads.WithLabelValues(result).Inc()
}

// SetAgentUp records the result of an agent health check
func (m *Metrics) SetAgentUp(agent string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.agentsUp.WithLabelValues(agent).Set(v)
}
