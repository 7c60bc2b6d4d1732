// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harekaze_reconcile_runs_total",
		Help: "Reconciliation passes by outcome",
	}, []string{"outcome"})

	ReconcileActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harekaze_reconcile_actions_total",
		Help: "Repairs performed by reconciliation",
	}, []string{"action"}) // action=purged|restored|failed|missing_file
)

// RecordReconcile records one reconciliation pass.
func RecordReconcile(purged, restored, failed, missing int, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	ReconcileRunsTotal.WithLabelValues(outcome).Inc()
	add := func(action string, n int) {
		if n > 0 {
			ReconcileActionsTotal.WithLabelValues(action).Add(float64(n))
		}
	}
	add("purged", purged)
	add("restored", restored)
	add("failed", failed)
	add("missing_file", missing)
}
