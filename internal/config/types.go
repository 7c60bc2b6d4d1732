// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads, validates, reloads and saves the daemon configuration.
package config

import "time"

// AppConfig is the effective configuration. The same struct is used for the
// YAML file; fields absent from the file keep their defaults.
type AppConfig struct {
	// Version is the binary version, never read from the file.
	Version string `yaml:"-"`

	DataDir      string `yaml:"dataDir"`
	DocumentsDir string `yaml:"documentsDir,omitempty"`
	LogLevel     string `yaml:"logLevel"`

	Chinachu  ChinachuConfig  `yaml:"chinachu"`
	Sync      SyncConfig      `yaml:"sync"`
	Download  DownloadConfig  `yaml:"download"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Cache     CacheConfig     `yaml:"cache"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Discovery DiscoveryConfig `yaml:"discovery"`
}

type ChinachuConfig struct {
	BaseURL    string        `yaml:"baseUrl"`
	Username   string        `yaml:"username,omitempty"`
	Password   string        `yaml:"password,omitempty"`
	Timeout    time.Duration `yaml:"timeout"`
	Retries    int           `yaml:"retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"maxBackoff"`
	RateLimit  float64       `yaml:"rateLimit"`
	RateBurst  int           `yaml:"rateBurst"`
	UserAgent  string        `yaml:"userAgent,omitempty"`
}

type SyncConfig struct {
	Interval     time.Duration `yaml:"interval"`
	MaxInterval  time.Duration `yaml:"maxInterval"`
	StartupDelay time.Duration `yaml:"startupDelay"`
}

type DownloadConfig struct {
	MaxConcurrent int    `yaml:"maxConcurrent"`
	Ext           string `yaml:"ext"`
	VideoCodec    string `yaml:"videoCodec"`
	AudioCodec    string `yaml:"audioCodec"`
}

type CatalogConfig struct {
	InMemory bool   `yaml:"inMemory"`
	Path     string `yaml:"path,omitempty"`
}

type CacheConfig struct {
	Backend         string        `yaml:"backend"`
	PreviewTTL      time.Duration `yaml:"previewTTL"`
	MaxEntries      int           `yaml:"maxEntries"`
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
	Redis           RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

type APIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	Token      string `yaml:"token,omitempty"`
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int `yaml:"rateLimit"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listenAddr"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

type DiscoveryConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the built-in configuration.
func Default() AppConfig {
	return AppConfig{
		DataDir:  "data",
		LogLevel: "info",
		Chinachu: ChinachuConfig{
			Timeout:    10 * time.Second,
			Retries:    2,
			Backoff:    500 * time.Millisecond,
			MaxBackoff: 5 * time.Second,
			RateLimit:  10,
			RateBurst:  20,
		},
		Sync: SyncConfig{
			Interval:     5 * time.Minute,
			MaxInterval:  time.Hour,
			StartupDelay: 5 * time.Second,
		},
		Download: DownloadConfig{
			MaxConcurrent: 2,
			Ext:           "m2ts",
			VideoCodec:    "copy",
			AudioCodec:    "copy",
		},
		Catalog: CatalogConfig{InMemory: true},
		Cache: CacheConfig{
			Backend:         "memory",
			PreviewTTL:      10 * time.Minute,
			MaxEntries:      256,
			CleanupInterval: time.Minute,
		},
		API: APIConfig{
			ListenAddr: ":10780",
			RateLimit:  300,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":10781",
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
		Discovery: DiscoveryConfig{Timeout: 3 * time.Second},
	}
}
