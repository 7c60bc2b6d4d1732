// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ManuGH/harekaze/internal/log"
	"golang.org/x/net/idna"
	"gopkg.in/yaml.v3"
)

// Loader builds an AppConfig with precedence ENV > file > defaults.
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the config file path, which may be empty.
func (l *Loader) Path() string {
	return l.configPath
}

func (l *Loader) envString(key, cur string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, cur)
}

func (l *Loader) envBool(key string, cur bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, cur)
}

func (l *Loader) envInt(key string, cur int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, cur)
}

func (l *Loader) envFloat(key string, cur float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, cur)
}

func (l *Loader) envDuration(key string, cur time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, cur)
}

// Load runs defaults, strict file parse, env overrides, path resolution and
// validation, in that order.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)
	l.warnUnknownEnv()

	if err := resolve(&cfg); err != nil {
		return cfg, err
	}
	cfg.Version = l.version
	if cfg.Chinachu.UserAgent == "" {
		cfg.Chinachu.UserAgent = "harekaze/" + l.version
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes path onto cfg. Unknown keys and trailing documents are
// rejected.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- the path comes from the operator.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.DataDir = l.envString("HAREKAZE_DATA_DIR", cfg.DataDir)
	cfg.DocumentsDir = l.envString("HAREKAZE_DOCUMENTS_DIR", cfg.DocumentsDir)
	cfg.LogLevel = l.envString("HAREKAZE_LOG_LEVEL", cfg.LogLevel)

	c := &cfg.Chinachu
	c.BaseURL = l.envString("HAREKAZE_CHINACHU_URL", c.BaseURL)
	c.Username = l.envString("HAREKAZE_CHINACHU_USERNAME", c.Username)
	c.Password = l.envString("HAREKAZE_CHINACHU_PASSWORD", c.Password)
	c.Timeout = l.envDuration("HAREKAZE_CHINACHU_TIMEOUT", c.Timeout)
	c.Retries = l.envInt("HAREKAZE_CHINACHU_RETRIES", c.Retries)
	c.Backoff = l.envDuration("HAREKAZE_CHINACHU_BACKOFF", c.Backoff)
	c.MaxBackoff = l.envDuration("HAREKAZE_CHINACHU_MAX_BACKOFF", c.MaxBackoff)
	c.RateLimit = l.envFloat("HAREKAZE_CHINACHU_RATE_LIMIT", c.RateLimit)
	c.RateBurst = l.envInt("HAREKAZE_CHINACHU_RATE_BURST", c.RateBurst)
	c.UserAgent = l.envString("HAREKAZE_CHINACHU_USER_AGENT", c.UserAgent)

	cfg.Sync.Interval = l.envDuration("HAREKAZE_SYNC_INTERVAL", cfg.Sync.Interval)
	cfg.Sync.MaxInterval = l.envDuration("HAREKAZE_SYNC_MAX_INTERVAL", cfg.Sync.MaxInterval)
	cfg.Sync.StartupDelay = l.envDuration("HAREKAZE_SYNC_STARTUP_DELAY", cfg.Sync.StartupDelay)

	cfg.Download.MaxConcurrent = l.envInt("HAREKAZE_DOWNLOAD_MAX_CONCURRENT", cfg.Download.MaxConcurrent)
	cfg.Download.Ext = l.envString("HAREKAZE_DOWNLOAD_EXT", cfg.Download.Ext)

	cfg.Catalog.InMemory = l.envBool("HAREKAZE_CATALOG_IN_MEMORY", cfg.Catalog.InMemory)
	cfg.Catalog.Path = l.envString("HAREKAZE_CATALOG_PATH", cfg.Catalog.Path)

	cfg.Cache.Backend = l.envString("HAREKAZE_CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.PreviewTTL = l.envDuration("HAREKAZE_CACHE_PREVIEW_TTL", cfg.Cache.PreviewTTL)
	cfg.Cache.Redis.Addr = l.envString("HAREKAZE_REDIS_ADDR", cfg.Cache.Redis.Addr)
	cfg.Cache.Redis.Password = l.envString("HAREKAZE_REDIS_PASSWORD", cfg.Cache.Redis.Password)
	cfg.Cache.Redis.DB = l.envInt("HAREKAZE_REDIS_DB", cfg.Cache.Redis.DB)

	cfg.API.ListenAddr = l.envString("HAREKAZE_API_LISTEN", cfg.API.ListenAddr)
	cfg.API.Token = l.envString("HAREKAZE_API_TOKEN", cfg.API.Token)
	cfg.API.RateLimit = l.envInt("HAREKAZE_API_RATE_LIMIT", cfg.API.RateLimit)

	cfg.Metrics.Enabled = l.envBool("HAREKAZE_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.ListenAddr = l.envString("HAREKAZE_METRICS_LISTEN", cfg.Metrics.ListenAddr)

	cfg.Telemetry.Enabled = l.envBool("HAREKAZE_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("HAREKAZE_OTEL_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("HAREKAZE_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("HAREKAZE_OTEL_SAMPLING_RATE", cfg.Telemetry.SamplingRate)

	cfg.Discovery.Timeout = l.envDuration("HAREKAZE_DISCOVERY_TIMEOUT", cfg.Discovery.Timeout)
}

// warnUnknownEnv reports HAREKAZE_ variables that no key consumed, which
// are almost always typos.
func (l *Loader) warnUnknownEnv() {
	var unknown []string
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		if _, ok := l.ConsumedEnvKeys[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return
	}
	sort.Strings(unknown)
	logger := log.WithComponent("config")
	logger.Warn().
		Str(log.FieldEvent, "config.env_unknown").
		Strs("keys", unknown).
		Msg("ignoring unknown environment variables")
}

// resolve fills derived paths and normalises the server URL.
func resolve(cfg *AppConfig) error {
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	cfg.Telemetry.Exporter = strings.ToLower(strings.TrimSpace(cfg.Telemetry.Exporter))

	if cfg.DataDir != "" {
		abs, err := filepath.Abs(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("resolve dataDir: %w", err)
		}
		cfg.DataDir = abs
	}
	if cfg.DocumentsDir == "" && cfg.DataDir != "" {
		cfg.DocumentsDir = filepath.Join(cfg.DataDir, "documents")
	} else if cfg.DocumentsDir != "" {
		abs, err := filepath.Abs(cfg.DocumentsDir)
		if err != nil {
			return fmt.Errorf("resolve documentsDir: %w", err)
		}
		cfg.DocumentsDir = abs
	}
	if !cfg.Catalog.InMemory && cfg.Catalog.Path == "" && cfg.DataDir != "" {
		cfg.Catalog.Path = filepath.Join(cfg.DataDir, "catalog")
	}

	if cfg.Chinachu.BaseURL != "" {
		u, err := NormalizeBaseURL(cfg.Chinachu.BaseURL)
		if err != nil {
			return fmt.Errorf("chinachu.baseUrl: %w", err)
		}
		cfg.Chinachu.BaseURL = u
	}
	return nil
}

// NormalizeBaseURL adds a missing http scheme and converts the host to its
// ASCII form.
func NormalizeBaseURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}
	var ascii string
	if ip := net.ParseIP(host); ip != nil {
		ascii = ip.String()
		if ip.To4() == nil {
			ascii = "[" + ascii + "]"
		}
	} else {
		ascii, err = idna.Lookup.ToASCII(host)
		if err != nil {
			return "", fmt.Errorf("invalid host %q: %w", host, err)
		}
		ascii = strings.ToLower(ascii)
	}
	if port := u.Port(); port != "" {
		u.Host = ascii + ":" + port
	} else {
		u.Host = ascii
	}
	return u.String(), nil
}
