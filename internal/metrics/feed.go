// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harekaze_changefeed_published_total",
		Help: "Total number of change events published per collection",
	}, []string{"collection"})

	FeedDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harekaze_changefeed_dropped_total",
		Help: "Total number of change events dropped by collection and reason",
	}, []string{"collection", "reason"})
)

// IncFeedPublished records a published change event.
func IncFeedPublished(collection string) {
	FeedPublishedTotal.WithLabelValues(labelOrUnknown(collection)).Inc()
}

// IncFeedDrop records a change event that a subscriber could not receive.
func IncFeedDrop(collection, reason string) {
	FeedDroppedTotal.WithLabelValues(labelOrUnknown(collection), labelOrUnknown(reason)).Inc()
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
