package observability

import (
	"bufio"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
//
// Every Record/Observe helper is safe to call on a nil *Metrics so components
// can be built without instrumentation in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Resolution metrics
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec

	// Verifier metrics
	VerificationsTotal   *prometheus.CounterVec
	VerificationDuration *prometheus.HistogramVec
	KeySetFetchesTotal   *prometheus.CounterVec

	// Provisioning metrics
	ProvisioningTotal *prometheus.CounterVec

	// Realtime metrics
	RealtimeConnections     prometheus.Gauge
	RealtimeEventsTotal     *prometheus.CounterVec
	RealtimeEventsDropped   prometheus.Counter
	RealtimeRejectionsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cohort_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cohort_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cohort_token_resolutions_total",
				Help: "Token resolutions by final state and rejection reason",
			},
			[]string{"strategy", "state", "reason"},
		),
		ResolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cohort_token_resolution_duration_seconds",
				Help:    "End-to-end token resolution duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"strategy", "state"},
		),

		VerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cohort_verifications_total",
				Help: "External token verifications by mode and result",
			},
			[]string{"mode", "result"},
		),
		VerificationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cohort_verification_duration_seconds",
				Help:    "External token verification duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2, 5},
			},
			[]string{"mode"},
		),
		KeySetFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cohort_keyset_fetches_total",
				Help: "Remote key set fetches by result",
			},
			[]string{"result"},
		),

		ProvisioningTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cohort_provisioning_total",
				Help: "Account provisioning outcomes by path",
			},
			[]string{"path"},
		),

		RealtimeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cohort_realtime_connections",
				Help: "Currently open realtime connections",
			},
		),
		RealtimeEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cohort_realtime_events_total",
				Help: "Events delivered to subscriber buffers by group kind",
			},
			[]string{"group"},
		),
		RealtimeEventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cohort_realtime_events_dropped_total",
				Help: "Events dropped because a subscriber buffer was full",
			},
		),
		RealtimeRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cohort_realtime_rejections_total",
				Help: "Realtime connections refused by reason",
			},
			[]string{"reason"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cohort_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cohort_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ResolutionsTotal,
		m.ResolutionDuration,
		m.VerificationsTotal,
		m.VerificationDuration,
		m.KeySetFetchesTotal,
		m.ProvisioningTotal,
		m.RealtimeConnections,
		m.RealtimeEventsTotal,
		m.RealtimeEventsDropped,
		m.RealtimeRejectionsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// ObserveResolution records one finished resolution
func (m *Metrics) ObserveResolution(strategy, state, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(strategy, state, reason).Inc()
	m.ResolutionDuration.WithLabelValues(strategy, state).Observe(d.Seconds())
}

// ObserveVerification records one verifier call
func (m *Metrics) ObserveVerification(mode, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(mode, result).Inc()
	m.VerificationDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordKeySetFetch records a remote key set fetch
func (m *Metrics) RecordKeySetFetch(result string) {
	if m == nil {
		return
	}
	m.KeySetFetchesTotal.WithLabelValues(result).Inc()
}

// RecordProvisioning records how an account was obtained
func (m *Metrics) RecordProvisioning(path string) {
	if m == nil {
		return
	}
	m.ProvisioningTotal.WithLabelValues(path).Inc()
}

// RealtimeConnected adjusts the open connection gauge
func (m *Metrics) RealtimeConnected(delta float64) {
	if m == nil {
		return
	}
	m.RealtimeConnections.Add(delta)
}

// RecordRealtimeEvent records a delivered or dropped event
func (m *Metrics) RecordRealtimeEvent(group string, delivered bool) {
	if m == nil {
		return
	}
	if delivered {
		m.RealtimeEventsTotal.WithLabelValues(group).Inc()
		return
	}
	m.RealtimeEventsDropped.Inc()
}

// RecordRealtimeRejection records a refused realtime connection
func (m *Metrics) RecordRealtimeRejection(reason string) {
	if m == nil {
		return
	}
	m.RealtimeRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordDBStats copies connection pool stats into the gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// the websocket upgrade needs for hijacking.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Routes are labelled by their mux path template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler returns the /metrics handler for the given registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
