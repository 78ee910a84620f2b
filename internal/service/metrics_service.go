package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface and the token lifecycle.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	loginsTotal     prometheus.Counter
	refreshesTotal  prometheus.Counter
	revokedTotal    prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	loginsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Total successful logins",
	})

	refreshesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_token_refreshes_total",
		Help: "Total successful refresh token rotations",
	})

	revokedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_sessions_revoked_total",
		Help: "Total refresh tokens revoked by logout, logout-all, or password change",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, loginsTotal, refreshesTotal, revokedTotal, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		loginsTotal:     loginsTotal,
		refreshesTotal:  refreshesTotal,
		revokedTotal:    revokedTotal,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordLogin counts a successful login.
func (m *MetricsService) RecordLogin() {
	if m == nil {
		return
	}
	m.loginsTotal.Inc()
}

// RecordRefresh counts a successful rotation.
func (m *MetricsService) RecordRefresh() {
	if m == nil {
		return
	}
	m.refreshesTotal.Inc()
}

// RecordRevoked counts revoked refresh tokens.
func (m *MetricsService) RecordRevoked(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.revokedTotal.Add(float64(count))
}
