package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_turns_total",
			Help: "Total number of question turns by outcome.",
		},
		[]string{"outcome"},
	)
	modelCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_model_calls_total",
			Help: "Total number of language model calls by status.",
		},
		[]string{"status"},
	)
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_tool_calls_total",
			Help: "Total number of dispatched tool calls by tool and status.",
		},
		[]string{"tool", "status"},
	)
	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_retries_total",
			Help: "Total number of retried attempts by stage.",
		},
		[]string{"stage"},
	)
	storeQuerySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tabletalk_store_query_seconds",
			Help:    "Relational store round-trip latency by operation.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(turnsTotal, modelCallsTotal, toolCallsTotal, retriesTotal, storeQuerySeconds)
}

// ObserveTurn counts a finished turn. outcome is "answered", "direct" or a fault kind.
func ObserveTurn(outcome string) {
	turnsTotal.WithLabelValues(outcome).Inc()
}

func ObserveModelCall(status string) {
	modelCallsTotal.WithLabelValues(status).Inc()
}

func ObserveToolCall(tool, status string) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
}

func ObserveRetry(stage string) {
	retriesTotal.WithLabelValues(stage).Inc()
}

func ObserveStoreQuery(op string, elapsed time.Duration) {
	storeQuerySeconds.WithLabelValues(op).Observe(elapsed.Seconds())
}
