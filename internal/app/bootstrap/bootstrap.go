// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bootstrap wires the harekazed dependency graph.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/harekaze/internal/api"
	"github.com/ManuGH/harekaze/internal/cache"
	"github.com/ManuGH/harekaze/internal/catalog"
	"github.com/ManuGH/harekaze/internal/changefeed"
	"github.com/ManuGH/harekaze/internal/chinachu"
	"github.com/ManuGH/harekaze/internal/config"
	"github.com/ManuGH/harekaze/internal/daemon"
	"github.com/ManuGH/harekaze/internal/downloads"
	xglog "github.com/ManuGH/harekaze/internal/log"
	"github.com/ManuGH/harekaze/internal/reconcile"
	"github.com/ManuGH/harekaze/internal/telemetry"
	"github.com/ManuGH/harekaze/internal/transfer"
)

const (
	serviceName = "harekaze"
	// DownloadsDBName is the SQLite file under dataDir.
	DownloadsDBName = "downloads.db"
	closeTimeout    = 15 * time.Second
)

// Container holds the wired runtime.
type Container struct {
	Config       config.AppConfig
	ConfigHolder *config.ConfigHolder
	Logger       zerolog.Logger
	Server       *api.Server
	Manager      daemon.Manager
	App          *daemon.App

	Client     *chinachu.Client
	Feed       *changefeed.Feed
	Downloads  *downloads.Store
	Catalog    *catalog.Store
	Scheduler  *catalog.Scheduler
	Transfers  *transfer.Manager
	Reconciler *reconcile.Reconciler

	closers  []func(context.Context) error
	runOnce  sync.Once
	runError error
}

// WireServices loads the configuration and builds every component. On error
// everything opened so far is closed again.
func WireServices(ctx context.Context, version, explicitConfigPath string) (*Container, error) {
	if ctx == nil {
		return nil, fmt.Errorf("wire services context is nil")
	}

	xglog.Configure(xglog.Config{Level: "info", Service: serviceName, Version: version})
	logger := xglog.WithComponent("bootstrap")

	configPath, err := ResolveConfigPath(strings.TrimSpace(explicitConfigPath))
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	loader := config.NewLoader(configPath, version)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.RequireServer(); err != nil {
		return nil, err
	}

	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: serviceName, Version: cfg.Version})
	logger = xglog.WithComponent("bootstrap")
	source := "env+defaults"
	if configPath != "" {
		source = "file"
	}
	logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str(xglog.FieldPath, configPath).
		Str("server", config.MaskURL(cfg.Chinachu.BaseURL)).
		Msg("configuration loaded")

	c := &Container{Config: cfg, Logger: logger}
	if err := c.wire(ctx, loader); err != nil {
		_ = c.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return c, nil
}

func (c *Container) onClose(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

func (c *Container) wire(ctx context.Context, loader *config.Loader) error {
	cfg := c.Config

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	c.onClose(tp.Shutdown)

	for _, dir := range []string{cfg.DataDir, cfg.DocumentsDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	c.Feed = changefeed.New(changefeed.DefaultBuffer)
	c.onClose(func(context.Context) error {
		c.Feed.Close()
		return nil
	})

	c.Downloads, err = downloads.Open(ctx, filepath.Join(cfg.DataDir, DownloadsDBName), c.Feed)
	if err != nil {
		return err
	}
	c.onClose(func(context.Context) error { return c.Downloads.Close() })

	c.Catalog, err = catalog.Open(catalog.Options{Path: cfg.Catalog.Path, InMemory: cfg.Catalog.InMemory}, c.Feed)
	if err != nil {
		return err
	}
	c.onClose(func(context.Context) error { return c.Catalog.Close() })

	c.Client, err = chinachu.New(chinachu.Options{
		BaseURL:        cfg.Chinachu.BaseURL,
		Username:       cfg.Chinachu.Username,
		Password:       cfg.Chinachu.Password,
		Timeout:        cfg.Chinachu.Timeout,
		MaxRetries:     cfg.Chinachu.Retries,
		Backoff:        cfg.Chinachu.Backoff,
		MaxBackoff:     cfg.Chinachu.MaxBackoff,
		RateLimit:      rate.Limit(cfg.Chinachu.RateLimit),
		RateLimitBurst: cfg.Chinachu.RateBurst,
		UserAgent:      cfg.Chinachu.UserAgent,
	})
	if err != nil {
		return fmt.Errorf("chinachu client: %w", err)
	}

	c.Scheduler = catalog.NewScheduler(catalog.NewSyncer(c.Client, c.Catalog))
	c.Scheduler.BaseInterval = cfg.Sync.Interval
	c.Scheduler.MaxInterval = cfg.Sync.MaxInterval
	c.Scheduler.StartupDelay = cfg.Sync.StartupDelay

	c.Transfers = transfer.NewManager(c.Client, c.Downloads, transfer.Options{
		DocumentsDir:  cfg.DocumentsDir,
		MaxConcurrent: cfg.Download.MaxConcurrent,
		Watch: chinachu.WatchOptions{
			Ext:        cfg.Download.Ext,
			VideoCodec: cfg.Download.VideoCodec,
			AudioCodec: cfg.Download.AudioCodec,
		},
	})
	c.onClose(c.Transfers.Shutdown)

	c.Reconciler = reconcile.New(c.Downloads, c.Client, c.Transfers, cfg.DocumentsDir)

	previews, err := cache.New(cache.Config{
		Backend:         cfg.Cache.Backend,
		CleanupInterval: cfg.Cache.CleanupInterval,
		MaxEntries:      cfg.Cache.MaxEntries,
		Redis: cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		},
	}, xglog.WithComponent("cache"))
	if err != nil {
		return err
	}
	c.onClose(func(context.Context) error { return previews.Close() })

	opts := api.Options{
		Token:      cfg.API.Token,
		RateLimit:  cfg.API.RateLimit,
		PreviewTTL: cfg.Cache.PreviewTTL,
		Version:    cfg.Version,
	}
	if cfg.Telemetry.Enabled {
		opts.TracingService = serviceName
	}
	c.Server = api.New(api.Deps{
		Remote:     c.Client,
		Catalog:    c.Catalog,
		Syncer:     c.Scheduler,
		Downloads:  c.Downloads,
		Transfers:  c.Transfers,
		Reconciler: c.Reconciler,
		Feed:       c.Feed,
		Previews:   cache.NewReadThrough(previews),
	}, opts)

	deps := daemon.Deps{
		Logger:        c.Logger,
		APIHandler:    c.Server.Handler(),
		OnAPIShutdown: c.Feed.Close,
	}
	if cfg.Metrics.Enabled {
		deps.MetricsHandler = promhttp.Handler()
		deps.MetricsAddr = cfg.Metrics.ListenAddr
	}
	c.Manager, err = daemon.NewManager(daemon.DefaultServerConfig(cfg.API.ListenAddr), deps)
	if err != nil {
		return fmt.Errorf("create daemon manager: %w", err)
	}

	c.ConfigHolder = config.NewConfigHolder(cfg, loader)
	c.App = daemon.NewApp(c.Logger, c.Manager,
		c.ConfigHolder,
		daemon.Task{Name: "sync-scheduler", Run: c.Scheduler.Run},
		daemon.Task{Name: "startup-reconcile", Run: c.startupReconcile},
	)
	c.App.OnReload(c.applyConfig)
	return nil
}

// startupReconcile repairs the store once; failures are logged, not fatal.
func (c *Container) startupReconcile(ctx context.Context) error {
	rep, err := c.Reconciler.Run(ctx)
	if err != nil {
		c.Logger.Warn().Err(err).Str(xglog.FieldEvent, "reconcile.startup_failed").Msg("startup reconciliation failed")
		return nil
	}
	c.Logger.Info().
		Str(xglog.FieldEvent, "reconcile.startup_done").
		Int("purged", len(rep.Purged)).
		Int("restored", len(rep.Restored)).
		Int("failures", len(rep.Failures)).
		Int("missing_files", len(rep.MissingFiles)).
		Msg("startup reconciliation finished")
	return nil
}

// applyConfig applies the settings that can change at runtime. Everything
// else needs a restart.
func (c *Container) applyConfig(cfg config.AppConfig) {
	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: serviceName, Version: cfg.Version})
	c.Logger = xglog.WithComponent("bootstrap")
	c.Logger.Info().Str(xglog.FieldEvent, "config.applied").Str("log_level", cfg.LogLevel).Msg("runtime configuration applied")
}

// Run serves until ctx is cancelled. Once the servers and background tasks
// have stopped, every resource is released.
func (c *Container) Run(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("run context is nil")
	}
	if c.App == nil || c.Manager == nil {
		return fmt.Errorf("container is not fully initialized")
	}
	c.runOnce.Do(func() {
		err := c.App.Run(ctx)
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		c.runError = errors.Join(err, c.Close(closeCtx))
	})
	return c.runError
}

// Close releases resources in reverse order of creation. It is safe to call
// more than once.
func (c *Container) Close(ctx context.Context) error {
	closers := c.closers
	c.closers = nil
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResolveConfigPath returns the explicit path, or dataDir/config.yaml when
// that file exists, or "" for env-only configuration.
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		absPath, err := filepath.Abs(explicit)
		if err != nil {
			return "", fmt.Errorf("resolve absolute path for explicit config %q: %w", explicit, err)
		}
		info, err := os.Stat(absPath)
		if err != nil {
			return "", fmt.Errorf("explicit config file not found %q: %w", absPath, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("explicit config path %q is a directory", absPath)
		}
		return absPath, nil
	}

	dataDir := strings.TrimSpace(config.ParseString(config.EnvPrefix+"DATA_DIR", config.Default().DataDir))
	autoPath := filepath.Join(dataDir, "config.yaml")
	if info, err := os.Stat(autoPath); err == nil && !info.IsDir() {
		if absPath, err := filepath.Abs(autoPath); err == nil {
			return absPath, nil
		}
	}
	return "", nil
}
