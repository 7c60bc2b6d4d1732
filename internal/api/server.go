// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the control API over the catalog, the download store
// and the transfer manager.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ManuGH/harekaze/internal/api/middleware"
	"github.com/ManuGH/harekaze/internal/cache"
	"github.com/ManuGH/harekaze/internal/catalog"
	"github.com/ManuGH/harekaze/internal/changefeed"
	"github.com/ManuGH/harekaze/internal/chinachu"
	xglog "github.com/ManuGH/harekaze/internal/log"
	"github.com/ManuGH/harekaze/internal/model"
	"github.com/ManuGH/harekaze/internal/reconcile"
	"github.com/ManuGH/harekaze/internal/transfer"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Remote is the subset of the Chinachu client the API calls directly.
type Remote interface {
	Status(ctx context.Context) (*chinachu.Status, error)
	Recording(ctx context.Context, id string) (*model.Recording, error)
	Preview(ctx context.Context, id string, opts chinachu.PreviewOptions) ([]byte, error)
	AddTimer(ctx context.Context, programID string) error
	DeleteTimer(ctx context.Context, id string) error
	SkipTimer(ctx context.Context, id string) error
	UnskipTimer(ctx context.Context, id string) error
	DeleteRecording(ctx context.Context, id string) error
}

// Catalog is the read side of the synced catalog.
type Catalog interface {
	Recordings(ctx context.Context) ([]model.Recording, error)
	Recording(ctx context.Context, id string) (*model.Recording, error)
	DeleteRecording(ctx context.Context, id string) error
	Timers(ctx context.Context) ([]model.Timer, error)
	Channels(ctx context.Context) ([]model.Channel, error)
	Programs(ctx context.Context) ([]model.Program, error)
}

// Syncer runs catalog syncs.
type Syncer interface {
	RunNow(ctx context.Context) (catalog.Result, error)
	Trigger()
	Status() catalog.Status
}

// Downloads is the durable download store.
type Downloads interface {
	List(ctx context.Context) ([]model.Download, error)
	Get(ctx context.Context, id string) (*model.Download, error)
	SetLastPlayed(ctx context.Context, id string, pos float64) error
}

// Transfers controls in-flight downloads.
type Transfers interface {
	Start(ctx context.Context, rec model.Recording) (*transfer.Progress, error)
	Remove(ctx context.Context, id string) error
	Cancel(id string) bool
	Progress(id string) (*transfer.Progress, bool)
}

// Reconciler repairs the download store against the documents directory.
type Reconciler interface {
	Run(ctx context.Context) (reconcile.Report, error)
}

// Deps wires the server. Previews may be nil to disable caching.
type Deps struct {
	Remote     Remote
	Catalog    Catalog
	Syncer     Syncer
	Downloads  Downloads
	Transfers  Transfers
	Reconciler Reconciler
	Feed       *changefeed.Feed
	Previews   *cache.ReadThrough
}

// Options tunes the HTTP surface.
type Options struct {
	Token          string
	RateLimit      int
	PreviewTTL     time.Duration
	TracingService string
	Version        string
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

// Server implements the control API.
type Server struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger
	router chi.Router
}

// New builds the server and its router.
func New(deps Deps, opts Options) *Server {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	if opts.PreviewTTL <= 0 {
		opts.PreviewTTL = 10 * time.Minute
	}
	if deps.Previews == nil {
		deps.Previews = cache.NewReadThrough(cache.NewNoOpCache())
	}
	s := &Server{
		deps:   deps,
		opts:   opts,
		logger: xglog.WithComponent("api"),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	middleware.ApplyStack(r, middleware.StackConfig{
		TracingService: s.opts.TracingService,
		EnableMetrics:  true,
		EnableLogging:  true,
		RateLimit:      middleware.RateLimitConfig{RequestLimit: s.opts.RateLimit, WindowSize: time.Minute},
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusNotFound, "not_found", "No such endpoint.")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed.")
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/api/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerToken(s.opts.Token))

		r.Route("/api/recordings", func(r chi.Router) {
			r.Get("/", s.handleListRecordings)
			r.Get("/{id}", s.handleGetRecording)
			r.Delete("/{id}", s.handleDeleteRecording)
			r.Get("/{id}/preview", s.handlePreview)
		})
		r.Route("/api/timers", func(r chi.Router) {
			r.Get("/", s.handleListTimers)
			r.Post("/", s.handleAddTimer)
			r.Delete("/{id}", s.handleDeleteTimer)
			r.Put("/{id}/skip", s.handleSkipTimer)
			r.Put("/{id}/unskip", s.handleUnskipTimer)
		})
		r.Get("/api/guide", s.handleGuide)
		r.Post("/api/sync", s.handleSync)
		r.Get("/api/sync", s.handleSyncStatus)

		r.Route("/api/downloads", func(r chi.Router) {
			r.Get("/", s.handleListDownloads)
			r.Post("/", s.handleCreateDownload)
			r.Get("/{id}", s.handleGetDownload)
			r.Delete("/{id}", s.handleDeleteDownload)
			r.Get("/{id}/progress", s.handleProgress)
			r.Post("/{id}/cancel", s.handleCancel)
			r.Put("/{id}/position", s.handlePosition)
		})
		r.Post("/api/reconcile", s.handleReconcile)
		r.Get("/api/events", s.handleEvents)
	})
	return r
}
