// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransfersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harekaze_transfers_active",
		Help: "Number of download transfers currently registered",
	})

	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harekaze_transfers_total",
		Help: "Finished download transfers by outcome",
	}, []string{"outcome"}) // outcome=completed|failed|cancelled

	TransferBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harekaze_transfer_bytes_total",
		Help: "Bytes received by download transfers",
	})
)

// ObserveTransfer records the terminal outcome of a transfer.
func ObserveTransfer(outcome string) {
	TransfersTotal.WithLabelValues(labelOrUnknown(outcome)).Inc()
}
