package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	statementsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsbulk_statements_submitted_total",
			Help: "Total number of statements submitted, by statement kind.",
		},
		[]string{"kind"},
	)
	statementOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsbulk_statement_outcomes_total",
			Help: "Total number of terminal statement outcomes, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	statementDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rsbulk_statement_duration_ms",
			Help:    "Wall clock from submission to terminal outcome in milliseconds.",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000, 60000, 300000, 900000},
		},
		[]string{"kind"},
	)
	verificationWarningsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rsbulk_verification_warnings_total",
			Help: "Total number of non-fatal export verification warnings.",
		},
	)
	stagedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rsbulk_staged_bytes_total",
			Help: "Total bytes uploaded to the staging prefix ahead of COPY.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		statementsSubmittedTotal,
		statementOutcomesTotal,
		statementDurationMs,
		verificationWarningsTotal,
		stagedBytesTotal,
	)
}

func ObserveStatementSubmitted(kind string) {
	statementsSubmittedTotal.WithLabelValues(kind).Inc()
}

func ObserveStatementOutcome(kind, outcome string, elapsed time.Duration) {
	statementOutcomesTotal.WithLabelValues(kind, outcome).Inc()
	if elapsed < 0 {
		elapsed = 0
	}
	statementDurationMs.WithLabelValues(kind).Observe(float64(elapsed.Milliseconds()))
}

func IncrementVerificationWarning() {
	verificationWarningsTotal.Inc()
}

func AddStagedBytes(n int64) {
	if n <= 0 {
		return
	}
	stagedBytesTotal.Add(float64(n))
}
