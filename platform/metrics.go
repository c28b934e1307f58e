package platform

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskchat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskchat",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "endpoint"},
	)

	// TurnsTotal counts agent turns by terminal state: final_text, exhausted, fatal.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskchat",
			Subsystem: "agent",
			Name:      "turns_total",
			Help:      "Agent turns by terminal state",
		},
		[]string{"state"},
	)

	ModelRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "taskchat",
			Subsystem: "agent",
			Name:      "model_rounds",
			Help:      "Model invocation rounds per turn",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	RateLimitRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskchat",
			Subsystem: "agent",
			Name:      "rate_limit_retries_total",
			Help:      "Model calls retried after a rate limit response",
		},
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskchat",
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome",
		},
		[]string{"tool_name", "status"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskchat",
			Subsystem: "agent",
			Name:      "tool_duration_seconds",
			Help:      "Tool execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"tool_name"},
	)

	// StoredRecords is refreshed by the scheduled stats job.
	StoredRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "taskchat",
			Subsystem: "store",
			Name:      "records",
			Help:      "Stored records by table",
		},
		[]string{"table"},
	)
)
