package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by the API shell.
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

// Domain counters incremented by the core services.
var (
	AcknowledgmentsRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sop_acknowledgments_recorded_total",
		Help: "Acknowledgments accepted into the ledger.",
	})

	AttemptsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "training_attempts_recorded_total",
			Help: "Training attempts recorded, by outcome.",
		},
		[]string{"outcome"},
	)

	LockoutsTriggered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "training_lockouts_total",
		Help: "Attempt submissions rejected by the lockout policy.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		AcknowledgmentsRecorded, AttemptsRecorded, LockoutsTriggered,
	)
	registerBuildInfo()
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument wraps a handler with request counting and latency observation.
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

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// CanonicalPath collapses entity identifiers embedded in resource paths so the
// per-path metric cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	for _, prefix := range []string{"/v1/documents/", "/v1/staff/", "/v1/modules/"} {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		parts := strings.SplitN(rest, "/", 2)
		if parts[0] == "" {
			return p
		}
		out := prefix + ":id"
		if len(parts) == 2 && parts[1] != "" {
			out += "/" + parts[1]
		}
		return out
	}
	return p
}
