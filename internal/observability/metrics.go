package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckmesh_source_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckmesh_source_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	sessionsOpenedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckmesh_source_sessions_opened_total",
			Help: "Total number of engine sessions opened.",
		},
	)
	datasetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckmesh_source_datasets_total",
			Help: "Total number of datasets yielded to the host.",
		},
	)
	batchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckmesh_source_batches_total",
			Help: "Total number of row batches delivered.",
		},
	)
	rowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckmesh_source_rows_total",
			Help: "Total number of rows delivered.",
		},
	)
	probeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckmesh_source_probe_failures_total",
			Help: "Total number of metadata probes that degraded to null.",
		},
		[]string{"probe"},
	)
	streamFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckmesh_source_stream_failures_total",
			Help: "Total number of dataset streams that failed while reading.",
		},
	)
	inferredSchemasTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckmesh_source_inferred_schemas_total",
			Help: "Total number of column sets inferred from a sampled batch.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		sessionsOpenedTotal,
		datasetsTotal,
		batchesTotal,
		rowsTotal,
		probeFailuresTotal,
		streamFailuresTotal,
		inferredSchemasTotal,
	)
}

func IncSessionsOpened() {
	sessionsOpenedTotal.Inc()
}

func IncDatasets() {
	datasetsTotal.Inc()
}

func ObserveBatch(rows int) {
	batchesTotal.Inc()
	if rows > 0 {
		rowsTotal.Add(float64(rows))
	}
}

func IncProbeFailure(probe string) {
	probeFailuresTotal.WithLabelValues(probe).Inc()
}

func IncStreamFailure() {
	streamFailuresTotal.Inc()
}

func IncInferredSchema() {
	inferredSchemasTotal.Inc()
}
