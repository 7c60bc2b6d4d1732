// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package reconcile repairs the download store against the files on disk.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/harekaze/internal/chinachu"
	"github.com/ManuGH/harekaze/internal/downloads"
	"github.com/ManuGH/harekaze/internal/log"
	"github.com/ManuGH/harekaze/internal/metrics"
	"github.com/ManuGH/harekaze/internal/model"
	"github.com/ManuGH/harekaze/internal/transfer"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultPassTimeout bounds a pass that mostly waits on detail fetches.
const DefaultPassTimeout = 2 * time.Minute

// Store is the part of the download store the reconciler touches.
type Store interface {
	List(ctx context.Context) ([]model.Download, error)
	Create(ctx context.Context, d model.Download) error
	// DeleteIncomplete deletes id only while its size is 0 and returns
	// downloads.ErrNotFound otherwise.
	DeleteIncomplete(ctx context.Context, id string) error
}

// Fetcher loads recording metadata for orphaned files.
type Fetcher interface {
	Recording(ctx context.Context, id string) (*model.Recording, error)
}

// Transfers reports in-flight downloads.
type Transfers interface {
	Active(id string) bool
}

// Failure is an orphaned file whose metadata could not be restored.
type Failure struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Report summarises one pass.
type Report struct {
	Purged       []string      `json:"purged"`
	Restored     []string      `json:"restored"`
	Failures     []Failure     `json:"failures"`
	MissingFiles []string      `json:"missingFiles"`
	Took         time.Duration `json:"took"`
}

// Mutations is the number of store writes the pass performed.
func (r Report) Mutations() int { return len(r.Purged) + len(r.Restored) }

// Reconciler runs passes. Concurrent Run calls share one pass.
type Reconciler struct {
	store     Store
	fetcher   Fetcher
	transfers Transfers
	docs      string
	logger    zerolog.Logger

	// PassTimeout bounds one pass independently of the callers.
	PassTimeout time.Duration

	runs    singleflight.Group
	fetches singleflight.Group
	mu      sync.Mutex
	last    *Report
}

// New builds a reconciler over the documents directory.
func New(store Store, fetcher Fetcher, transfers Transfers, documentsDir string) *Reconciler {
	return &Reconciler{
		store:     store,
		fetcher:   fetcher,
		transfers: transfers,
		docs:      documentsDir,
		logger:    log.WithComponent("reconcile"),

		PassTimeout: DefaultPassTimeout,
	}
}

// Run performs one pass. A second pass without external changes mutates
// nothing. Callers share the pass, which outlives any one of them; a caller
// whose ctx ends stops waiting with ctx.Err().
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	ch := r.runs.DoChan("run", func() (any, error) {
		passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.PassTimeout)
		defer cancel()
		rep, err := r.run(passCtx)
		metrics.RecordReconcile(len(rep.Purged), len(rep.Restored), len(rep.Failures), len(rep.MissingFiles), err)
		if err == nil {
			r.mu.Lock()
			r.last = &rep
			r.mu.Unlock()
		}
		return rep, err
	})
	select {
	case res := <-ch:
		rep, _ := res.Val.(Report)
		return rep, res.Err
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

// Last returns the report of the most recent successful pass.
func (r *Reconciler) Last() (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

func (r *Reconciler) run(ctx context.Context) (Report, error) {
	start := time.Now()
	rep := Report{Purged: []string{}, Restored: []string{}, Failures: []Failure{}, MissingFiles: []string{}}

	records, err := r.store.List(ctx)
	if err != nil {
		return rep, fmt.Errorf("reconcile: list downloads: %w", err)
	}

	known := make(map[string]bool, len(records))
	for _, d := range records {
		if d.Size == 0 {
			if r.transfers != nil && r.transfers.Active(d.ID) {
				known[d.ID] = true
				continue
			}
			err := r.store.DeleteIncomplete(ctx, d.ID)
			if errors.Is(err, downloads.ErrNotFound) {
				// Completed (or removed) since List: leave it alone.
				known[d.ID] = true
				continue
			}
			if err != nil {
				return rep, fmt.Errorf("reconcile: purge %s: %w", d.ID, err)
			}
			rep.Purged = append(rep.Purged, d.ID)
			continue
		}
		known[d.ID] = true
		if _, _, err := transfer.FindMedia(filepath.Join(r.docs, d.ID), d.ID); err != nil {
			rep.MissingFiles = append(rep.MissingFiles, d.ID)
		}
	}

	orphans, err := r.scan(known)
	if err != nil {
		return rep, err
	}
	for _, o := range orphans {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		restored, err := r.restore(ctx, o)
		if err != nil {
			rep.Failures = append(rep.Failures, Failure{ID: o.id, Message: chinachu.Message(err), Err: err})
			r.logger.Warn().Err(err).Str(log.FieldDownloadID, o.id).Str(log.FieldEvent, "reconcile.restore_failed").Msg("could not restore metadata")
			continue
		}
		if restored {
			rep.Restored = append(rep.Restored, o.id)
		}
	}

	rep.Took = time.Since(start)
	ev := r.logger.Debug()
	if rep.Mutations() > 0 || len(rep.Failures) > 0 || len(rep.MissingFiles) > 0 {
		ev = r.logger.Info()
	}
	ev.Str(log.FieldEvent, "reconcile.done").
		Int("purged", len(rep.Purged)).
		Int("restored", len(rep.Restored)).
		Int("failed", len(rep.Failures)).
		Int("missing_files", len(rep.MissingFiles)).
		Dur("took", rep.Took).
		Msg("reconciliation finished")
	return rep, nil
}

type orphan struct {
	id   string
	size int64
	mod  time.Time
}

// scan lists directories that hold a finished media file but have no record.
func (r *Reconciler) scan(known map[string]bool) ([]orphan, error) {
	entries, err := os.ReadDir(r.docs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile: read documents: %w", err)
	}

	var out []orphan
	for _, e := range entries {
		id := e.Name()
		if !e.IsDir() || strings.HasPrefix(id, ".") || known[id] {
			continue
		}
		_, info, err := transfer.FindMedia(filepath.Join(r.docs, id), id)
		if err != nil || info.Size() == 0 {
			continue
		}
		out = append(out, orphan{id: id, size: info.Size(), mod: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, nil
}

// restore reports false when another writer created the record first.
func (r *Reconciler) restore(ctx context.Context, o orphan) (bool, error) {
	v, err, _ := r.fetches.Do(o.id, func() (any, error) {
		return r.fetcher.Recording(ctx, o.id)
	})
	if err != nil {
		return false, err
	}
	rec, _ := v.(*model.Recording)
	if rec == nil {
		return false, fmt.Errorf("reconcile: empty recording for %s", o.id)
	}
	cp := *rec
	err = r.store.Create(ctx, model.Download{
		ID:           o.id,
		Recording:    &cp,
		Size:         o.size,
		DownloadedAt: o.mod,
	})
	if errors.Is(err, downloads.ErrExists) {
		return false, nil
	}
	return err == nil, err
}
