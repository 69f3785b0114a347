package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygrid_queries_total",
			Help: "Total number of queries by connection kind, dialect and outcome.",
		},
		[]string{"kind", "dialect", "outcome"},
	)
	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querygrid_query_duration_seconds",
			Help:    "End-to-end query latency including normalization.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind", "dialect"},
	)
	queryRows = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querygrid_query_rows",
			Help:    "Rows returned per successful query.",
			Buckets: []float64{0, 1, 10, 100, 1000, 10000, 100000, 1000000},
		},
		[]string{"kind", "dialect"},
	)
	connectionChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygrid_connection_checks_total",
			Help: "Total number of connect checks by connection kind, dialect and outcome.",
		},
		[]string{"kind", "dialect", "outcome"},
	)
	scrollPagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querygrid_scroll_pages_total",
			Help: "Total number of search pages fetched, including the first request.",
		},
	)
	scrollReleaseFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querygrid_scroll_release_failures_total",
			Help: "Total number of scroll cursors that could not be released.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		queriesTotal,
		queryDurationSeconds,
		queryRows,
		connectionChecksTotal,
		scrollPagesTotal,
		scrollReleaseFailuresTotal,
	)
}

// OutcomeOK labels a query or check that succeeded. Failures are labelled
// with their error class.
const OutcomeOK = "ok"

// ObserveQuery records one query against a connection of the given kind
// (relational, search_index, object_file, sql_files).
func ObserveQuery(kind, dialect, outcome string, rows int, elapsed time.Duration) {
	queriesTotal.WithLabelValues(kind, dialect, outcome).Inc()
	queryDurationSeconds.WithLabelValues(kind, dialect).Observe(elapsed.Seconds())
	if outcome == OutcomeOK {
		queryRows.WithLabelValues(kind, dialect).Observe(float64(rows))
	}
}

func ObserveConnectionCheck(kind, dialect, outcome string) {
	connectionChecksTotal.WithLabelValues(kind, dialect, outcome).Inc()
}

func ObserveScrollPages(pages int) {
	if pages > 0 {
		scrollPagesTotal.Add(float64(pages))
	}
}

func IncrementScrollReleaseFailure() {
	scrollReleaseFailuresTotal.Inc()
}
