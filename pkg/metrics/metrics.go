package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Commit metrics
	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arhiv_commits_total",
			Help: "Total number of committed transactions by outcome",
		},
		[]string{"outcome"}, // "ok", "conflict", "validation_error"
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arhiv_commit_duration_seconds",
			Help:    "Time to validate and append a committed transaction",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Conflict metrics
	ConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arhiv_conflicts_total",
			Help: "Total number of documents left in a conflicted head after merge",
		},
	)

	ConflictedDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arhiv_conflicted_documents",
			Help: "Current number of documents with a conflicted head",
		},
	)

	// Sync metrics
	SyncRoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arhiv_sync_rounds_total",
			Help: "Total number of sync rounds against a peer by outcome",
		},
		[]string{"outcome"}, // "ok", "unreachable", "error"
	)

	SyncRoundDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arhiv_sync_round_duration_seconds",
			Help:    "Duration of a sync round against a single peer",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"peer"},
	)

	SyncAppliedDocuments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arhiv_sync_applied_documents_total",
			Help: "Total number of remote revisions applied locally during sync",
		},
	)

	// BLOB metrics
	BlobBytesTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arhiv_blob_bytes_transferred_total",
			Help: "Total BLOB bytes moved over sync, by direction",
		},
		[]string{"direction"}, // "sent", "received"
	)

	BlobsStoredTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arhiv_blobs_stored_total",
			Help: "Current number of BLOBs in the committed store",
		},
	)

	BlobOrphansSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arhiv_blob_orphans_swept_total",
			Help: "Total number of staged BLOBs removed by orphan sweeps (on commit and in the background)",
		},
	)

	// Search metrics
	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arhiv_search_duration_seconds",
			Help:    "Time to evaluate a search query across the live document set",
			Buckets: prometheus.DefBuckets,
		},
	)

	SearchQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arhiv_search_queries_total",
			Help: "Total number of search queries evaluated",
		},
	)

	// Document set metrics
	DocumentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arhiv_documents_total",
			Help: "Current number of documents by head kind",
		},
		[]string{"kind"}, // "committed", "staged_new", "staged_update", "conflict", "erased"
	)
)

func init() {
	prometheus.MustRegister(CommitsTotal)
	prometheus.MustRegister(CommitDuration)
	prometheus.MustRegister(ConflictsTotal)
	prometheus.MustRegister(ConflictedDocuments)
	prometheus.MustRegister(SyncRoundsTotal)
	prometheus.MustRegister(SyncRoundDuration)
	prometheus.MustRegister(SyncAppliedDocuments)
	prometheus.MustRegister(BlobBytesTransferred)
	prometheus.MustRegister(BlobsStoredTotal)
	prometheus.MustRegister(BlobOrphansSweptTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(SearchQueriesTotal)
	prometheus.MustRegister(DocumentsTotal)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
