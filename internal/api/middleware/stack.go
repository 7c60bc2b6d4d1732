// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package middleware holds the HTTP ingress stack of the control API.
package middleware

import (
	xglog "github.com/ManuGH/harekaze/internal/log"
	"github.com/go-chi/chi/v5"
)

// StackConfig toggles the optional layers.
type StackConfig struct {
	TracingService string // empty disables tracing
	EnableMetrics  bool
	EnableLogging  bool
	RateLimit      RateLimitConfig
}

// ApplyStack installs the middleware in order: Recoverer, RequestID,
// tracing, metrics, logging, rate limit.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	if cfg.TracingService != "" {
		r.Use(Tracing(cfg.TracingService))
	}
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.EnableLogging {
		r.Use(xglog.Middleware())
	}
	r.Use(RateLimit(cfg.RateLimit))
}
