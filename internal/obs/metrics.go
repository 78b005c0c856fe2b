package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Authentication metrics.
var (
	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	lockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_lockouts_total",
		Help: "Login lockouts triggered by the rate limiter.",
	})

	sessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_sessions_created_total",
		Help: "Sessions created on successful login.",
	})

	sessionsRevoked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_sessions_revoked_total",
		Help: "Sessions revoked explicitly or by password reset.",
	})

	cleanupDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_cleanup_rows_total",
			Help: "Rows removed by periodic cleanup, by kind.",
		},
		[]string{"kind"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		loginsTotal, lockoutsTotal, sessionsCreated, sessionsRevoked, cleanupDeleted,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncLogin counts a login attempt. Outcome is one of
// "success", "invalid_credentials", "unverified", "locked", "error".
func IncLogin(outcome string) {
	loginsTotal.WithLabelValues(outcome).Inc()
}

// IncLockout counts a rate-limiter lockout transition.
func IncLockout() {
	lockoutsTotal.Inc()
}

// IncSessionsCreated counts a newly created session.
func IncSessionsCreated() {
	sessionsCreated.Inc()
}

// AddSessionsRevoked counts sessions revoked.
func AddSessionsRevoked(n int64) {
	if n > 0 {
		sessionsRevoked.Add(float64(n))
	}
}

// AddCleanup counts rows reclaimed by the background sweeper.
func AddCleanup(kind string, n int64) {
	if n > 0 {
		cleanupDeleted.WithLabelValues(kind).Add(float64(n))
	}
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses per-resource identifiers so metric labels stay
// bounded. Only the session id segment is dynamic in this API.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if rest, ok := strings.CutPrefix(path, "/v1/sessions/"); ok && rest != "" && !strings.Contains(rest, "/") {
		return "/v1/sessions/:id"
	}
	return path
}

// statusWriter records the response code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
