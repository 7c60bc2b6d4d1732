// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harekaze_sync_runs_total",
		Help: "Catalog sync runs by collection and outcome",
	}, []string{"collection", "outcome"}) // outcome=success|failure

	SyncMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harekaze_sync_mutations_total",
		Help: "Records written or removed by catalog sync",
	}, []string{"collection", "op"}) // op=upsert|delete

	syncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harekaze_sync_duration_seconds",
		Help:    "Duration of catalog sync runs",
		Buckets: prometheus.ExponentialBuckets(0.05, 2.0, 10),
	}, []string{"collection"})

	syncRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "harekaze_sync_records",
		Help: "Records held per collection after the last successful sync",
	}, []string{"collection"})
)

// RecordSync records the outcome of one collection sync.
func RecordSync(collection string, d time.Duration, upserted, deleted, total int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	SyncRunsTotal.WithLabelValues(collection, outcome).Inc()
	syncDuration.WithLabelValues(collection).Observe(d.Seconds())
	if err != nil {
		return
	}
	if upserted > 0 {
		SyncMutationsTotal.WithLabelValues(collection, "upsert").Add(float64(upserted))
	}
	if deleted > 0 {
		SyncMutationsTotal.WithLabelValues(collection, "delete").Add(float64(deleted))
	}
	syncRecords.WithLabelValues(collection).Set(float64(total))
}
