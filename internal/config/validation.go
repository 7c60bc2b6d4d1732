// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"strings"
	"time"

	"github.com/ManuGH/harekaze/internal/validate"
)

// ErrNoServer is returned by RequireServer when no Chinachu URL is set.
var ErrNoServer = errors.New("chinachu.baseUrl is not configured (run `harekazed discover -write` or set HAREKAZE_CHINACHU_URL)")

// Validate checks a resolved configuration. An empty chinachu.baseUrl is
// accepted so that discovery can fill it in later.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.AbsDir("dataDir", cfg.DataDir)
	v.AbsDir("documentsDir", cfg.DocumentsDir)
	v.OneOf("logLevel", cfg.LogLevel, []string{"debug", "info", "warn", "error"})

	c := cfg.Chinachu
	if strings.TrimSpace(c.BaseURL) != "" {
		v.URL("chinachu.baseUrl", c.BaseURL, []string{"http", "https"})
	}
	v.Duration("chinachu.timeout", c.Timeout, time.Second, 5*time.Minute)
	v.Range("chinachu.retries", c.Retries, 0, 10)
	v.Duration("chinachu.backoff", c.Backoff, 0, time.Minute)
	if c.MaxBackoff < c.Backoff {
		v.AddError("chinachu.maxBackoff", "must not be smaller than chinachu.backoff", c.MaxBackoff)
	}
	if c.RateLimit < 0 {
		v.AddError("chinachu.rateLimit", "cannot be negative", c.RateLimit)
	}
	if c.RateLimit > 0 {
		v.Positive("chinachu.rateBurst", c.RateBurst)
	}

	v.Duration("sync.interval", cfg.Sync.Interval, 10*time.Second, 0)
	if cfg.Sync.MaxInterval < cfg.Sync.Interval {
		v.AddError("sync.maxInterval", "must not be smaller than sync.interval", cfg.Sync.MaxInterval)
	}
	v.Duration("sync.startupDelay", cfg.Sync.StartupDelay, 0, 10*time.Minute)

	v.Range("download.maxConcurrent", cfg.Download.MaxConcurrent, 1, 8)
	v.OneOf("download.ext", cfg.Download.Ext, []string{"m2ts", "ts", "mp4", "mkv", "webm"})

	if !cfg.Catalog.InMemory {
		v.AbsDir("catalog.path", cfg.Catalog.Path)
	}

	v.OneOf("cache.backend", cfg.Cache.Backend, []string{"memory", "redis", "none"})
	v.Duration("cache.previewTTL", cfg.Cache.PreviewTTL, 0, 24*time.Hour)
	v.NonNegative("cache.maxEntries", cfg.Cache.MaxEntries)
	if cfg.Cache.Backend == "redis" {
		v.NotEmpty("cache.redis.addr", cfg.Cache.Redis.Addr)
		v.Range("cache.redis.db", cfg.Cache.Redis.DB, 0, 15)
	}

	v.ListenAddr("api.listenAddr", cfg.API.ListenAddr)
	v.NonNegative("api.rateLimit", cfg.API.RateLimit)

	if cfg.Metrics.Enabled {
		v.ListenAddr("metrics.listenAddr", cfg.Metrics.ListenAddr)
		if cfg.Metrics.ListenAddr == cfg.API.ListenAddr {
			v.AddError("metrics.listenAddr", "must differ from api.listenAddr", cfg.Metrics.ListenAddr)
		}
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.FloatRange("telemetry.samplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	v.Duration("discovery.timeout", cfg.Discovery.Timeout, 100*time.Millisecond, time.Minute)

	return v.Err()
}

// RequireServer fails when no server is configured.
func (cfg AppConfig) RequireServer() error {
	if strings.TrimSpace(cfg.Chinachu.BaseURL) == "" {
		return ErrNoServer
	}
	return nil
}

const redactedValue = "***"

// Redacted returns a copy safe to print or log.
func (cfg AppConfig) Redacted() AppConfig {
	out := cfg
	if out.Chinachu.Password != "" {
		out.Chinachu.Password = redactedValue
	}
	if out.Cache.Redis.Password != "" {
		out.Cache.Redis.Password = redactedValue
	}
	if out.API.Token != "" {
		out.API.Token = redactedValue
	}
	out.Chinachu.BaseURL = MaskURL(out.Chinachu.BaseURL)
	return out
}
