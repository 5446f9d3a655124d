package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight current HTTP requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// ErrorCounter counts errors by kind and endpoint
	ErrorCounter *prometheus.CounterVec

	// TokenRefreshes counts token refresh attempts by outcome and strategy
	TokenRefreshes *prometheus.CounterVec
	// AvitoCalls counts upstream Avito API calls by operation and status
	AvitoCalls *prometheus.CounterVec
	// AvitoCallLatency tracks upstream call latency by operation
	AvitoCallLatency *prometheus.HistogramVec
	// ProxyProbes counts proxy reachability probes by outcome
	ProxyProbes *prometheus.CounterVec
	// KeepAliveTicks counts keep-alive ticks by result (ok, failed, skipped)
	KeepAliveTicks *prometheus.CounterVec
	// KeepAliveJobs tracks the number of registered keep-alive jobs
	KeepAliveJobs prometheus.Gauge
	// AccountOnline tracks last observed online state per account
	AccountOnline *prometheus.GaugeVec

	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"kind", "endpoint"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Total number of OAuth token refresh attempts",
			},
			[]string{"outcome", "strategy"},
		),
		AvitoCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "avito_calls_total",
				Help:      "Total number of Avito API calls",
			},
			[]string{"operation", "status"},
		),
		AvitoCallLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "avito_call_latency_seconds",
				Help:      "Avito API call latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ProxyProbes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_probes_total",
				Help:      "Total number of proxy reachability probes",
			},
			[]string{"outcome"},
		),
		KeepAliveTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "keepalive_ticks_total",
				Help:      "Total number of keep-alive ticks",
			},
			[]string{"account_id", "result"},
		),
		KeepAliveJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "keepalive_jobs",
				Help:      "Number of registered keep-alive jobs",
			},
		),
		AccountOnline: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "account_online",
				Help:      "Last observed online state per account (1=online, 0=offline)",
			},
			[]string{"account_id"},
		),
	}

	// Register metrics with custom registry
	registry.MustRegister(
		m.RequestLatency,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
		m.ErrorCounter,
		m.TokenRefreshes,
		m.AvitoCalls,
		m.AvitoCallLatency,
		m.ProxyProbes,
		m.KeepAliveTicks,
		m.KeepAliveJobs,
		m.AccountOnline,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequestLatency records the latency of an HTTP request
func (m *Metrics) RecordRequestLatency(endpoint, method, status string, durationSeconds float64) {
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

// RecordHTTPRequest increments the HTTP request counter
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// IncHTTPRequestsInFlight increments the in-flight gauge
func (m *Metrics) IncHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements the in-flight gauge
func (m *Metrics) DecHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

// RecordError increments the error counter
func (m *Metrics) RecordError(kind, endpoint string) {
	m.ErrorCounter.WithLabelValues(kind, endpoint).Inc()
}

// RecordTokenRefresh records a token refresh attempt
func (m *Metrics) RecordTokenRefresh(outcome, strategy string) {
	m.TokenRefreshes.WithLabelValues(outcome, strategy).Inc()
}

// RecordAvitoCall records an upstream API call
func (m *Metrics) RecordAvitoCall(operation, status string, durationSeconds float64) {
	m.AvitoCalls.WithLabelValues(operation, status).Inc()
	m.AvitoCallLatency.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordProxyProbe records a proxy reachability probe
func (m *Metrics) RecordProxyProbe(outcome string) {
	m.ProxyProbes.WithLabelValues(outcome).Inc()
}

// RecordKeepAliveTick records a keep-alive tick result
func (m *Metrics) RecordKeepAliveTick(accountID, result string) {
	m.KeepAliveTicks.WithLabelValues(accountID, result).Inc()
}

// SetKeepAliveJobs sets the registered job count
func (m *Metrics) SetKeepAliveJobs(n int) {
	m.KeepAliveJobs.Set(float64(n))
}

// SetAccountOnline records the online state of an account
func (m *Metrics) SetAccountOnline(accountID string, online bool) {
	v := 0.0
	if online {
		v = 1.0
	}
	m.AccountOnline.WithLabelValues(accountID).Set(v)
}
