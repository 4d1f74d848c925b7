// Package metrics provides Prometheus metrics for bucket-sync.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	syncPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketsync_sync_passes_total",
			Help: "Total number of reconciliation passes",
		},
		[]string{"result"},
	)

	syncConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bucketsync_sync_conflicts_total",
			Help: "Total number of conflicts resolved across all passes",
		},
	)

	syncPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bucketsync_sync_pass_duration_seconds",
			Help:    "Reconciliation pass duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	unresolvedFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bucketsync_unresolved_files",
			Help: "Files reported by the most recent unresolved audit",
		},
	)

	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bucketsync_store_operation_duration_seconds",
			Help:    "Remote store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketsync_store_operations_total",
			Help: "Total remote store operations",
		},
		[]string{"operation", "result"},
	)

	fileEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bucketsync_file_events_total",
			Help: "Total single-file events applied to the metadata repository",
		},
		[]string{"event", "result"},
	)
)

func result(success bool) string {
	if success {
		return "success"
	}

	return "error"
}

// RecordSyncPass records one reconciliation pass and the conflicts it
// resolved.
func RecordSyncPass(duration time.Duration, conflicts int, success bool) {
	syncPassesTotal.WithLabelValues(result(success)).Inc()
	syncPassDuration.Observe(duration.Seconds())

	if success {
		syncConflictsTotal.Add(float64(conflicts))
	}
}

// SetUnresolvedFiles records the size of the latest unresolved audit.
func SetUnresolvedFiles(n int) {
	unresolvedFiles.Set(float64(n))
}

// RecordStoreOperation records a remote store call.
func RecordStoreOperation(operation string, duration time.Duration, success bool) {
	storeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	storeOperationsTotal.WithLabelValues(operation, result(success)).Inc()
}

// RecordFileEvent records a single save, update or delete event.
func RecordFileEvent(event string, success bool) {
	fileEventsTotal.WithLabelValues(event, result(success)).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
