// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "harekaze_cache_lookups_total",
	Help: "Cache lookups by backend and result",
}, []string{"backend", "result"}) // result=hit|miss

// IncCacheLookup records a cache hit or miss.
func IncCacheLookup(backend string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookupsTotal.WithLabelValues(labelOrUnknown(backend), result).Inc()
}
