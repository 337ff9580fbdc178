package obs

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gatekeep.org/internal/auth"
)

// Metrics owns a private registry with HTTP and auth collectors.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	operations   *prometheus.CounterVec
	tokensIssued *prometheus.CounterVec
	otpsIssued   *prometheus.CounterVec
	denials      *prometheus.CounterVec
	buildInfo    *prometheus.GaugeVec
}

var _ auth.Recorder = (*Metrics)(nil)

// NewMetrics initialises the registry and collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gatekeep_http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeep_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatekeep_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeep_auth_operations_total",
			Help: "Auth operations by outcome code.",
		}, []string{"operation", "outcome"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeep_tokens_issued_total",
			Help: "Bearer tokens issued by type.",
		}, []string{"type"}),
		otpsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeep_otps_issued_total",
			Help: "Verification codes issued by purpose.",
		}, []string{"purpose"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeep_authorization_denials_total",
			Help: "Operations rejected by the authorization engine.",
		}, []string{"code"}),
		buildInfo: newBuildInfo(),
	}
	registry.MustRegister(
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.operations, m.tokensIssued, m.otpsIssued, m.denials, m.buildInfo,
		collectors.NewGoCollector(),
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler serves the registry for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Instrument records RPS, latency and in-flight requests.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := CanonicalPath(r)
		m.httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.code)).Inc()
	})
}

// Operation counts an auth operation under its outcome code.
func (m *Metrics) Operation(name string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		var de *auth.Error
		if errors.As(err, &de) {
			outcome = string(de.Code)
		} else {
			outcome = string(auth.CodeInternal)
		}
	}
	m.operations.WithLabelValues(name, outcome).Inc()
}

// TokenIssued counts an issued bearer token.
func (m *Metrics) TokenIssued(typ auth.TokenType) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(string(typ)).Inc()
}

// OTPIssued counts an issued verification code.
func (m *Metrics) OTPIssued(purpose auth.VerificationType) {
	if m == nil {
		return
	}
	m.otpsIssued.WithLabelValues(string(purpose)).Inc()
}

// Denied counts an authorization rejection.
func (m *Metrics) Denied(code auth.Code) {
	if m == nil {
		return
	}
	m.denials.WithLabelValues(string(code)).Inc()
}

// CanonicalPath returns the matched route pattern, falling back to a fixed
// label so unmatched paths cannot blow up label cardinality.
func CanonicalPath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if p := strings.TrimSpace(r.URL.Path); p == "" || p == "/" {
		return "/"
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
