package observ

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turn metrics
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatiq_turns_total",
			Help: "Completed conversational turns by terminal state",
		},
		[]string{"state"}, // "done" or "failed"
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatiq_turn_duration_seconds",
			Help:    "End-to-end turn duration",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	ModelRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatiq_model_retries_total",
			Help: "Model invocations retried after a transient failure",
		},
	)

	// Memory store metrics
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatiq_store_op_duration_seconds",
			Help:    "Vector store operation duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"op"}, // "ingest", "query", "delete_scope", "delete_origin"
	)

	DegradedQueries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatiq_degraded_queries_total",
			Help: "Memory queries that degraded to an empty result",
		},
	)

	RecordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatiq_records_ingested_total",
			Help: "Memory records ingested by source kind",
		},
		[]string{"kind"},
	)

	// Prompt metrics
	PromptTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatiq_prompt_tokens",
			Help:    "Assembled prompt token counts",
			Buckets: []float64{250, 500, 1000, 1500, 2000, 2500, 3000, 4000},
		},
	)

	PromptsTruncated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatiq_prompts_truncated_total",
			Help: "Assembled prompts that hit the token budget",
		},
	)
)
