package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the HTTP surface and the pallet engine.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	numbersAllocated *prometheus.CounterVec
	palletsClosed    *prometheus.CounterVec
	txRetries        *prometheus.CounterVec
	sequenceHigh     *prometheus.GaugeVec
}

// NewMetrics initialises the registry and the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pallets_http_requests_total",
		Help: "HTTP requests partitioned by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pallets_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	allocated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pallets_numbers_allocated_total",
		Help: "Pallet numbers issued, by scope (temporary or permanent:<division>).",
	}, []string{"scope"})
	closed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pallets_closed_total",
		Help: "Pallets closed, by division.",
	}, []string{"division"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pallets_tx_retries_total",
		Help: "Transactions retried after a transient failure, by attempt.",
	}, []string{"attempt"})
	high := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pallets_permanent_sequence_high_water",
		Help: "Highest permanent sequence issued since start, by division.",
	}, []string{"division"})
	registry.MustRegister(requests, duration, allocated, closed, retries, high)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		numbersAllocated: allocated,
		palletsClosed:    closed,
		txRetries:        retries,
		sequenceHigh:     high,
	}
}

// Handler returns the http.Handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
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

// NumberAllocated counts an issued pallet number.
func (m *Metrics) NumberAllocated(scope string) {
	if m == nil {
		return
	}
	m.numbersAllocated.WithLabelValues(scope).Inc()
}

// PermanentSequence records the latest permanent sequence of a division.
func (m *Metrics) PermanentSequence(division string, seq int) {
	if m == nil {
		return
	}
	m.sequenceHigh.WithLabelValues(division).Set(float64(seq))
}

// PalletClosed counts a closed pallet.
func (m *Metrics) PalletClosed(division string) {
	if m == nil {
		return
	}
	m.palletsClosed.WithLabelValues(division).Inc()
}

// TxRetried counts a retried transaction attempt.
func (m *Metrics) TxRetried(attempt int) {
	if m == nil {
		return
	}
	m.txRetries.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

// Registerer exposes the registry for custom collectors.
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
