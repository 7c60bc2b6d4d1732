// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chinachu

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harekaze_chinachu_request_total",
			Help: "Total number of Chinachu HTTP request attempts",
		},
		[]string{"method", "operation", "status_class"},
	)
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harekaze_chinachu_request_duration_seconds",
			Help:    "Duration of Chinachu HTTP requests per attempt (until headers)",
			Buckets: prometheus.ExponentialBuckets(0.05, 2.0, 8),
		},
		[]string{"method", "operation", "status_class"},
	)
	requestRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harekaze_chinachu_request_retries_total",
			Help: "Number of Chinachu request retries performed",
		},
		[]string{"method", "operation", "status_class"},
	)
)

func recordAttemptMetrics(method, operation string, status int, duration time.Duration, err error, retry bool) {
	class := statusClass(err, status)
	requestTotal.WithLabelValues(method, operation, class).Inc()
	requestDuration.WithLabelValues(method, operation, class).Observe(duration.Seconds())
	if retry {
		requestRetries.WithLabelValues(method, operation, class).Inc()
	}
}

func statusClass(err error, status int) string {
	if err != nil {
		return "error"
	}
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	case status > 0:
		return "1xx"
	}
	return "unknown"
}
