package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deepresearcher",
		Name:      "runs_total",
		Help:      "Completed research runs by terminal stage.",
	}, []string{"stage"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "deepresearcher",
		Name:      "run_duration_seconds",
		Help:      "End-to-end research run duration.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "deepresearcher",
		Name:      "stage_duration_seconds",
		Help:      "Pipeline stage duration.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})

	chatTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deepresearcher",
		Name:      "chat_turns_total",
		Help:      "Chat turns by route.",
	}, []string{"route"})

	llmCost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "deepresearcher",
		Name:      "llm_cost_usd_total",
		Help:      "Accumulated LLM spend in USD.",
	})
)
