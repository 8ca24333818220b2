// Package metrics exposes the process's Prometheus instruments. All
// instruments are registered on the default registry; the CLI serves
// them only when an address is configured.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// InvestigationsStarted counts investigation executions by mode.
	InvestigationsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraudlens",
		Name:      "investigations_started_total",
		Help:      "Investigations started, by run mode.",
	}, []string{"mode"})

	// InvestigationsFinished counts terminal outcomes.
	InvestigationsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraudlens",
		Name:      "investigations_finished_total",
		Help:      "Investigations reaching a terminal status, by status and failure cause.",
	}, []string{"status", "cause"})

	// AnalyzerDuration observes per-domain analyzer latency.
	AnalyzerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fraudlens",
		Name:      "analyzer_duration_seconds",
		Help:      "Domain analyzer wall time.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"domain", "outcome"})

	// WarehouseQueryDuration observes gateway query latency.
	WarehouseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fraudlens",
		Name:      "warehouse_query_duration_seconds",
		Help:      "Warehouse gateway query wall time.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"operation"})

	// LabelCascadeSteps counts fallback walks in the label joiner.
	LabelCascadeSteps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fraudlens",
		Name:      "label_cascade_steps_total",
		Help:      "Label source fallback steps taken.",
	})

	// LLMCalls counts completions by outcome.
	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraudlens",
		Name:      "llm_calls_total",
		Help:      "LLM completions, by outcome.",
	}, []string{"outcome"})
)

// ObserveAnalyzer records one analyzer execution.
func ObserveAnalyzer(domain, outcome string, d time.Duration) {
	AnalyzerDuration.WithLabelValues(domain, outcome).Observe(d.Seconds())
}

// Serve exposes /metrics on addr. Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
