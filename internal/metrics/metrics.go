package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnswerTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insight_answer_total",
		Help: "Total number of answered queries by result",
	}, []string{"result"})

	AnswerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "insight_answer_duration_seconds",
		Help:    "End-to-end duration of query answering",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // ~0.25s .. ~128s
	})

	PlanFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insight_plan_failures_total",
		Help: "Total number of draft plans that failed to resolve",
	}, []string{"kind"})

	SanitizerRewritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "insight_sanitizer_rewrites_total",
		Help: "Total number of dead date conversions removed from draft pipelines",
	})

	SanitizerDiagnosticsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "insight_sanitizer_diagnostics_total",
		Help: "Total number of date-type mismatches surfaced in draft pipelines",
	})

	ExecutionFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "insight_execution_failures_total",
		Help: "Total number of sanitized pipelines that failed to execute",
	})

	SummarizerFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "insight_summarizer_fallback_total",
		Help: "Total number of narrative answers served from the templated fallback",
	})
)
