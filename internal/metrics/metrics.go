// Package metrics defines package-level Prometheus metric variables for the
// view counter. Call Register() once at startup to expose them on the
// default registry, or RegisterWith() to use an isolated registry in tests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// BadgesServed counts badges rendered and returned, labelled by mode.
	// Valid modes: views, visitors.
	BadgesServed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "viewcount_badges_served_total",
		Help: "Badges rendered and returned, by mode (views|visitors).",
	}, []string{"mode"})

	// ViewsRecorded counts committed RecordView transactions.
	ViewsRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "viewcount_views_recorded_total",
		Help: "Total page views committed to the store.",
	})

	// NewVisitors counts views that were a visitor's first for their page.
	NewVisitors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "viewcount_new_visitors_total",
		Help: "Total first-time (page, visitor) pairs committed to the store.",
	})

	// RequestsRejected counts badge requests answered with an error status,
	// labelled by reason. Valid reasons: missing_page, store_error, not_found.
	RequestsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "viewcount_requests_rejected_total",
		Help: "Badge requests that did not produce a badge, by reason.",
	}, []string{"reason"})

	// StoreErrors counts failed store operations, labelled by operation.
	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "viewcount_store_errors_total",
		Help: "Failed store operations, by op (record|stats|ping).",
	}, []string{"op"})

	// TxnConflicts counts optimistic-concurrency commit conflicts.
	TxnConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "viewcount_txn_conflicts_total",
		Help: "RecordView attempts that lost a commit race and were retried.",
	})

	// TxnDuration observes RecordView latency including retries.
	TxnDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "viewcount_txn_duration_seconds",
		Help:    "RecordView latency in seconds, including conflict retries.",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// BboltDBSizeBytes is the on-disk size of the bbolt file.
	BboltDBSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "viewcount_bbolt_db_size_bytes",
		Help: "Size of the bbolt database file in bytes.",
	})

	// PagesTracked is the number of distinct page keys in the store.
	PagesTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "viewcount_pages_tracked",
		Help: "Distinct pages with at least one recorded view.",
	})
)

// Register registers all metrics with prometheus.DefaultRegisterer.
// Call once at process startup.
func Register() {
	RegisterWith(prometheus.DefaultRegisterer)
}

// RegisterWith registers all metrics with the given registerer.
// Use an isolated prometheus.NewRegistry() in tests to avoid conflicts.
func RegisterWith(reg prometheus.Registerer) {
	reg.MustRegister(
		BadgesServed,
		ViewsRecorded,
		NewVisitors,
		RequestsRejected,
		StoreErrors,
		TxnConflicts,
		TxnDuration,
		BboltDBSizeBytes,
		PagesTracked,
	)
}
