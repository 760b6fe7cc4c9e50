package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Cache metrics
	cellsTotal    *prometheus.CounterVec
	fetchesTotal  *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	retriesTotal  *prometheus.CounterVec
	rowsWritten   *prometheus.CounterVec
	refreshRuns   *prometheus.CounterVec
	watchlistSize prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	r.cellsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keywatch_cells_total",
			Help: "Grid cells visited, by completeness outcome",
		},
		[]string{"collector", "outcome"},
	)
	r.fetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keywatch_fetches_total",
			Help: "Requests issued to a source",
		},
		[]string{"collector", "status"},
	)
	r.fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keywatch_fetch_duration_seconds",
			Help:    "Source request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"collector", "status"},
	)
	r.retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keywatch_fetch_retries_total",
			Help: "Fetches re-issued after a retryable failure",
		},
		[]string{"collector"},
	)
	r.rowsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keywatch_rows_written_total",
			Help: "Rows persisted to the sample store",
		},
		[]string{"collector"},
	)
	r.refreshRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keywatch_refresh_runs_total",
			Help: "Scheduled watchlist refreshes",
		},
		[]string{"status"},
	)
	r.watchlistSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keywatch_watchlist_keywords",
			Help: "Number of keywords in the watchlist",
		},
	)

	reg.MustRegister(r.cellsTotal)
	reg.MustRegister(r.fetchesTotal)
	reg.MustRegister(r.fetchDuration)
	reg.MustRegister(r.retriesTotal)
	reg.MustRegister(r.rowsWritten)
	reg.MustRegister(r.refreshRuns)
	reg.MustRegister(r.watchlistSize)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	r.httpRequestsInFlight.Dec()
}

// RecordCell records the completeness outcome of one cell.
func (r *Registry) RecordCell(collector, outcome string) {
	r.cellsTotal.WithLabelValues(collector, outcome).Inc()
}

// RecordFetch records one source request.
func (r *Registry) RecordFetch(collector, status string, seconds float64) {
	r.fetchesTotal.WithLabelValues(collector, status).Inc()
	r.fetchDuration.WithLabelValues(collector, status).Observe(seconds)
}

// RecordRetry records a re-issued fetch.
func (r *Registry) RecordRetry(collector string) {
	r.retriesTotal.WithLabelValues(collector).Inc()
}

// RecordRowsWritten adds n persisted rows.
func (r *Registry) RecordRowsWritten(collector string, n int) {
	r.rowsWritten.WithLabelValues(collector).Add(float64(n))
}

// RecordRefresh records a scheduled refresh run.
func (r *Registry) RecordRefresh(status string) {
	r.refreshRuns.WithLabelValues(status).Inc()
}

// SetWatchlistSize sets the watchlist size.
func (r *Registry) SetWatchlistSize(size int) {
	r.watchlistSize.Set(float64(size))
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
