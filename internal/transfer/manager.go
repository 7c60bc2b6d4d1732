// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transfer downloads recordings to local storage and tracks the
// in-flight transfers.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ManuGH/harekaze/internal/chinachu"
	"github.com/ManuGH/harekaze/internal/downloads"
	"github.com/ManuGH/harekaze/internal/fsutil"
	"github.com/ManuGH/harekaze/internal/log"
	"github.com/ManuGH/harekaze/internal/metrics"
	"github.com/ManuGH/harekaze/internal/model"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

var (
	ErrAlreadyDownloaded = errors.New("transfer: already downloaded")
	ErrInProgress        = errors.New("transfer: already in progress")
	ErrNotFound          = downloads.ErrNotFound
	ErrShutdown          = errors.New("transfer: manager is shutting down")
)

// Source opens media streams.
type Source interface {
	Watch(ctx context.Context, id string, opts chinachu.WatchOptions) (*chinachu.Stream, error)
}

// Store is the durable download record store.
type Store interface {
	Get(ctx context.Context, id string) (*model.Download, error)
	Create(ctx context.Context, d model.Download) error
	Put(ctx context.Context, d model.Download) error
	SetSize(ctx context.Context, id string, size int64) error
	Delete(ctx context.Context, id string) error
}

// Options configures a Manager.
type Options struct {
	DocumentsDir  string
	MaxConcurrent int
	Watch         chinachu.WatchOptions
}

type entry struct {
	handle   *Handle
	onCancel func()
	// committed is set once the body is complete; Cancel no longer applies.
	committed bool
}

// Manager owns the handle registry and runs transfers.
type Manager struct {
	src    Source
	store  Store
	opts   Options
	sem    *semaphore.Weighted
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	handles map[string]entry
	closed  bool

	// beforeRecord runs between the rename and the size update.
	beforeRecord func(id string)
}

// NewManager builds a manager. Transfers are bound to the manager lifetime,
// not to the caller's context.
func NewManager(src Source, store Store, opts Options) *Manager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	opts.Watch = opts.Watch.Normalize()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		src:     src,
		store:   store,
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		logger:  log.WithComponent("transfer"),
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[string]entry),
	}
}

// CreateTransferSession allocates a session for a download id.
func (m *Manager) CreateTransferSession(id string) *Session {
	return newSession(m.ctx, id)
}

// AddRequest registers h for id. A later registration for the same id
// replaces the earlier one without cancelling it.
func (m *Manager) AddRequest(id string, h *Handle, onCancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles[id] = entry{handle: h, onCancel: onCancel}
	metrics.TransfersActive.Set(float64(len(m.handles)))
}

// Progress returns the live progress of id.
func (m *Manager) Progress(id string) (*Progress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.handles[id]
	if !ok || e.handle == nil {
		return nil, false
	}
	return e.handle.Progress, true
}

// Active reports whether id has a registered handle.
func (m *Manager) Active(id string) bool {
	_, ok := m.Progress(id)
	return ok
}

// ActiveIDs lists the ids with a registered handle.
func (m *Manager) ActiveIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	return ids
}

// Cancel stops the transfer of id and drops its handle. The partial file
// and the store record are left for reconciliation. It returns false when
// nothing is registered for id or the transfer has already committed its
// body and is finishing.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	e, ok := m.handles[id]
	if ok && e.committed {
		m.mu.Unlock()
		return false
	}
	if ok {
		delete(m.handles, id)
		metrics.TransfersActive.Set(float64(len(m.handles)))
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	if e.handle != nil && e.handle.Session != nil {
		e.handle.Session.cancel()
	}
	if e.onCancel != nil {
		e.onCancel()
	}
	m.logger.Info().Str(log.FieldDownloadID, id).Str(log.FieldEvent, "transfer.cancel").Msg("transfer cancelled")
	return true
}

// commit marks h as finishing. It fails once h was cancelled or replaced,
// and from then on Cancel(id) reports false.
func (m *Manager) commit(id string, h *Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.handles[id]
	if !ok || e.handle != h {
		return false
	}
	e.committed = true
	m.handles[id] = e
	return true
}

// dropHandle removes id only while it still maps to h.
func (m *Manager) dropHandle(id string, h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.handles[id]; ok && e.handle == h {
		delete(m.handles, id)
		metrics.TransfersActive.Set(float64(len(m.handles)))
	}
}

// Dir is the per-download directory.
func (m *Manager) Dir(id string) string {
	return filepath.Join(m.opts.DocumentsDir, id)
}

// FilePath is the final media path of id.
func (m *Manager) FilePath(id string) string {
	return filepath.Join(m.Dir(id), id+"."+m.opts.Watch.Ext)
}

// DocumentsDir is the root of all download directories.
func (m *Manager) DocumentsDir() string { return m.opts.DocumentsDir }

// Start records the download and streams the recording in the background.
// The returned Progress stays at 0 until a concurrency slot is free.
func (m *Manager) Start(ctx context.Context, rec model.Recording) (*Progress, error) {
	id := rec.ID
	if err := fsutil.ValidName(id); err != nil {
		return nil, fmt.Errorf("transfer: invalid id: %w", err)
	}

	session := m.CreateTransferSession(id)
	handle := NewHandle(session)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		session.cancel()
		return nil, ErrShutdown
	}
	if _, busy := m.handles[id]; busy {
		m.mu.Unlock()
		session.cancel()
		return nil, ErrInProgress
	}
	m.handles[id] = entry{handle: handle}
	metrics.TransfersActive.Set(float64(len(m.handles)))
	m.wg.Add(1)
	m.mu.Unlock()

	if err := m.prepareRecord(ctx, rec); err != nil {
		m.dropHandle(id, handle)
		session.cancel()
		m.wg.Done()
		return nil, err
	}

	logger := m.logger.With().
		Str(log.FieldDownloadID, id).
		Str(log.FieldSessionID, session.ID).
		Logger()
	session.OnComplete = func(r Result) {
		switch {
		case r.Err == nil:
			metrics.ObserveTransfer("completed")
			logger.Info().Str(log.FieldEvent, "transfer.done").Int64(log.FieldBytes, r.Size).Msg("download finished")
		case r.Canceled:
			metrics.ObserveTransfer("cancelled")
			logger.Info().Str(log.FieldEvent, "transfer.cancelled").Msg("download cancelled")
		default:
			metrics.ObserveTransfer("failed")
			logger.Warn().Err(r.Err).Str(log.FieldEvent, "transfer.failed").Msg("download failed")
		}
	}

	go func() {
		defer m.wg.Done()
		m.run(session, handle, rec)
	}()
	logger.Info().Str(log.FieldEvent, "transfer.start").Str(log.FieldPath, m.FilePath(id)).Msg("download started")
	return handle.Progress, nil
}

// prepareRecord writes the size-0 record, refusing completed downloads.
func (m *Manager) prepareRecord(ctx context.Context, rec model.Recording) error {
	existing, err := m.store.Get(ctx, rec.ID)
	switch {
	case errors.Is(err, downloads.ErrNotFound):
		r := rec
		return m.store.Create(ctx, model.Download{ID: rec.ID, Recording: &r})
	case err != nil:
		return err
	case existing.Complete():
		return ErrAlreadyDownloaded
	default:
		// Leftover of a failed transfer: start over.
		r := rec
		return m.store.Put(ctx, model.Download{ID: rec.ID, Recording: &r, LastPlayed: existing.LastPlayed})
	}
}

// Remove cancels any transfer, deletes the download directory and then the
// record. The record is kept when the directory cannot be removed.
func (m *Manager) Remove(ctx context.Context, id string) error {
	dir, err := fsutil.Child(m.opts.DocumentsDir, id)
	if err != nil {
		return fmt.Errorf("transfer: invalid id: %w", err)
	}

	var session *Session
	m.mu.Lock()
	if e, ok := m.handles[id]; ok && e.handle != nil {
		session = e.handle.Session
	}
	m.mu.Unlock()

	m.Cancel(id)
	if session != nil {
		select {
		case <-session.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	_, statErr := os.Lstat(dir)
	dirExists := statErr == nil
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("transfer: remove %s: %w", id, err)
	}
	err = m.store.Delete(ctx, id)
	if errors.Is(err, downloads.ErrNotFound) {
		if dirExists {
			return nil
		}
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	m.logger.Info().Str(log.FieldDownloadID, id).Str(log.FieldEvent, "download.removed").Msg("download removed")
	return nil
}

// Shutdown cancels every transfer and waits for them to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
