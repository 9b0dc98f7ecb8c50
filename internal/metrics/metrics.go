package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestAttempts tracks every outbound attempt by endpoint path and result
	RequestAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squai_request_attempts_total",
			Help: "Total number of outbound request attempts",
		},
		[]string{"endpoint", "result"},
	)

	// RequestErrors tracks failed attempts by error class
	RequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squai_request_errors_total",
			Help: "Total number of failed outbound attempts",
		},
		[]string{"endpoint", "error_type"},
	)

	// RequestTimeouts tracks calls that exhausted their retry budget
	RequestTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squai_request_timeouts_total",
			Help: "Total number of calls that gave up after the retry budget elapsed",
		},
		[]string{"endpoint"},
	)

	// RequestLatency tracks the full call duration including retries
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "squai_request_latency_seconds",
			Help:    "Outbound call latency in seconds, including retries",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"endpoint"},
	)

	// QueriesTotal tracks answered questions by final status
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squai_queries_total",
			Help: "Total number of questions processed",
		},
		[]string{"status"},
	)

	// QueryDuration tracks end-to-end question latency
	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "squai_query_duration_seconds",
			Help:    "End-to-end question latency in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// CacheLookups tracks answer cache hits and misses
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squai_cache_lookups_total",
			Help: "Total number of answer cache lookups",
		},
		[]string{"result"},
	)

	// HTTPRequests tracks gateway requests by route and status code
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squai_http_requests_total",
			Help: "Total number of gateway HTTP requests",
		},
		[]string{"route", "code"},
	)

	// DBConnectionPoolUsage tracks the percentage of used DB connections
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "squai_db_connection_pool_usage_percent",
			Help: "Percentage of used database connections",
		},
	)
)
