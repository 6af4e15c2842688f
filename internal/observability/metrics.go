package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/valuation"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	repostsTotal    *prometheus.CounterVec
	repostDuration  *prometheus.HistogramVec
	rowsRewritten   *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockledger_http_request_duration_seconds",
		Help:    "HTTP request duration by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	reposts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_reposts_total",
		Help: "Valuation reposts by operation, costing method and outcome.",
	}, []string{"operation", "method", "outcome"})
	repostDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockledger_repost_duration_seconds",
		Help:    "Time spent replaying and persisting one stock position.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"operation", "method"})
	rewritten := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_repost_rows_rewritten_total",
		Help: "Movement rows whose derived values were rewritten by a repost.",
	}, []string{"operation"})
	registry.MustRegister(requests, duration, reposts, repostDuration, rewritten)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		repostsTotal:    reposts,
		repostDuration:  repostDuration,
		rowsRewritten:   rewritten,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveRepost records one replay of a stock position.
func (m *Metrics) ObserveRepost(operation string, method valuation.Method, rewritten int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.repostsTotal.WithLabelValues(operation, method.String(), repostOutcome(err)).Inc()
	m.repostDuration.WithLabelValues(operation, method.String()).Observe(elapsed.Seconds())
	if rewritten > 0 {
		m.rowsRewritten.WithLabelValues(operation).Add(float64(rewritten))
	}
}

// repostOutcome keeps the label set small: business rejections are told
// apart from infrastructure failures.
func repostOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, inventory.ErrInsufficientStock), errors.Is(err, inventory.ErrValuationRateRequired),
		errors.Is(err, inventory.ErrEmptyReconciliation), errors.Is(err, inventory.ErrInvalidStatus):
		return "rejected"
	default:
		return "error"
	}
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}

var _ inventory.Observer = (*Metrics)(nil)
