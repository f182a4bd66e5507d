// Package obs holds the process-wide Prometheus metrics.
package obs

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crm_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	authEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_auth_events_total",
			Help: "Auth gateway operations by outcome.",
		},
		[]string{"op", "outcome"},
	)

	tokenRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_auth_token_rejections_total",
			Help: "Rejected tokens by failure kind.",
		},
		[]string{"kind"},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_jobs_runs_total",
			Help: "Background job runs by outcome.",
		},
		[]string{"job", "outcome"},
	)

	jobAffected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_jobs_affected_rows_total",
			Help: "Rows changed by background jobs.",
		},
		[]string{"job"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crm_build_info",
			Help: "crmauth build information.",
		},
		[]string{"version"},
	)
)

// Init registers the metrics with the default registry. Safe to call more than once.
func Init(version string) {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authEvents, tokenRejections,
			jobRuns, jobAffected,
			buildInfo,
		)
	})
	buildInfo.WithLabelValues(version).Set(1)
}

// Handler serves /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AuthEvent counts one gateway operation outcome ("ok" or an error code).
func AuthEvent(op, outcome string) {
	authEvents.WithLabelValues(op, outcome).Inc()
}

// TokenRejected counts a token decode failure.
func TokenRejected(kind string) {
	tokenRejections.WithLabelValues(kind).Inc()
}

// JobRun records a background job run and the rows it changed.
func JobRun(job string, affected int64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	jobRuns.WithLabelValues(job, outcome).Inc()
	if affected > 0 {
		jobAffected.WithLabelValues(job).Add(float64(affected))
	}
}

// Instrument measures every request. route maps a request to a bounded label.
func Instrument(next http.Handler, route func(*http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		label := route(r)

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		httpRequestDuration.WithLabelValues(r.Method, label).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, label, strconv.Itoa(sw.code)).Inc()
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

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("obs: underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
