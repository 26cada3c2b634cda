// Package metrics exposes the collection and persistence counters served
// on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rankwatch/collector"
)

var (
	snapshotsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rankwatch_snapshots_written_total",
		Help: "Snapshots persisted successfully",
	})

	snapshotWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rankwatch_snapshot_write_failures_total",
		Help: "Snapshot writes that were rolled back",
	})

	psiResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rankwatch_psi_results_total",
		Help: "PSI rows produced, by status",
	}, []string{"status"})

	geoResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rankwatch_geo_results_total",
		Help: "GEO rows produced, by status",
	}, []string{"status"})

	retentionDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rankwatch_retention_deleted_total",
		Help: "Snapshots removed by retention",
	})

	collectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rankwatch_collection_duration_seconds",
		Help:    "Wall time of one collection run",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
)

// ObserveBatch records the row statuses of a collection run and how long
// it took.
func ObserveBatch(b collector.Batch, took time.Duration) {
	for _, r := range b.PSI {
		psiResults.WithLabelValues(string(r.Status)).Inc()
	}
	for _, r := range b.Geo {
		geoResults.WithLabelValues(string(r.Status)).Inc()
	}
	collectionDuration.Observe(took.Seconds())
}

// SnapshotWritten counts a persisted snapshot, or a failed write.
func SnapshotWritten(err error) {
	if err != nil {
		snapshotWriteFailures.Inc()
		return
	}
	snapshotsWritten.Inc()
}

// RetentionDeleted adds n removed snapshots.
func RetentionDeleted(n int) {
	if n > 0 {
		retentionDeleted.Add(float64(n))
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
