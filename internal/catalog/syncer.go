// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/harekaze/internal/changefeed"
	"github.com/ManuGH/harekaze/internal/chinachu"
	"github.com/ManuGH/harekaze/internal/log"
	"github.com/ManuGH/harekaze/internal/metrics"
	"github.com/ManuGH/harekaze/internal/model"
	"github.com/ManuGH/harekaze/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Source is the part of the Chinachu client the syncer reads from.
type Source interface {
	Recorded(ctx context.Context) ([]model.Recording, error)
	Reserves(ctx context.Context) ([]model.Timer, error)
	Schedule(ctx context.Context) ([]chinachu.GuideChannel, error)
}

// Syncer mirrors the server state into the catalog.
type Syncer struct {
	src    Source
	store  *Store
	logger zerolog.Logger
}

// NewSyncer wires a source to a store.
func NewSyncer(src Source, store *Store) *Syncer {
	return &Syncer{src: src, store: store, logger: log.WithComponent("catalog.sync")}
}

// Result holds the per-collection diffs of SyncAll.
type Result struct {
	Recordings Diff `json:"recordings"`
	Timers     Diff `json:"timers"`
	Guide      Diff `json:"guide"`
}

// Mutations is the total number of records written or removed.
func (r Result) Mutations() int {
	return r.Recordings.Mutations() + r.Timers.Mutations() + r.Guide.Mutations()
}

// SyncRecordings replaces the local recordings with the server list.
func (s *Syncer) SyncRecordings(ctx context.Context) (Diff, error) {
	return s.run(ctx, changefeed.Recordings, func(ctx context.Context) (Diff, int, error) {
		recs, err := s.src.Recorded(ctx)
		if err != nil {
			return Diff{}, 0, err
		}
		d, err := s.store.ReplaceRecordings(ctx, recs)
		return d, len(recs), err
	})
}

// SyncTimers replaces the local reservations with the server list.
func (s *Syncer) SyncTimers(ctx context.Context) (Diff, error) {
	return s.run(ctx, changefeed.Timers, func(ctx context.Context) (Diff, int, error) {
		timers, err := s.src.Reserves(ctx)
		if err != nil {
			return Diff{}, 0, err
		}
		d, err := s.store.ReplaceTimers(ctx, timers)
		return d, len(timers), err
	})
}

// SyncGuide replaces channels and programs with the server schedule.
func (s *Syncer) SyncGuide(ctx context.Context) (Diff, error) {
	return s.run(ctx, "guide", func(ctx context.Context) (Diff, int, error) {
		guide, err := s.src.Schedule(ctx)
		if err != nil {
			return Diff{}, 0, err
		}
		channels := make([]model.Channel, 0, len(guide))
		var programs []model.Program
		for _, gc := range guide {
			channels = append(channels, gc.Channel)
			programs = append(programs, gc.Programs...)
		}
		d, err := s.store.ReplaceGuide(ctx, channels, programs)
		return d, len(channels) + len(programs), err
	})
}

// SyncAll runs the three syncs concurrently. A failing collection does not
// stop the others; the errors are joined.
func (s *Syncer) SyncAll(ctx context.Context) (Result, error) {
	var (
		res                      Result
		errRec, errTmr, errGuide error
		g                        errgroup.Group
	)
	g.Go(func() error {
		res.Recordings, errRec = s.SyncRecordings(ctx)
		return nil
	})
	g.Go(func() error {
		res.Timers, errTmr = s.SyncTimers(ctx)
		return nil
	})
	g.Go(func() error {
		res.Guide, errGuide = s.SyncGuide(ctx)
		return nil
	})
	_ = g.Wait()
	return res, errors.Join(errRec, errTmr, errGuide)
}

func (s *Syncer) run(ctx context.Context, collection string, fn func(context.Context) (Diff, int, error)) (Diff, error) {
	ctx, span := telemetry.Tracer("harekaze.catalog").Start(ctx, "harekaze.catalog.sync."+collection)
	defer span.End()

	start := time.Now()
	diff, total, err := fn(ctx)
	metrics.RecordSync(collection, time.Since(start), diff.Upserted, diff.Deleted, total, err)
	span.SetAttributes(telemetry.SyncAttributes(collection, diff.Upserted, diff.Deleted)...)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn().Err(err).Str(log.FieldEvent, "sync.failed").Str("collection", collection).Msg("sync failed")
		return Diff{}, fmt.Errorf("sync %s: %w", collection, err)
	}
	ev := s.logger.Debug()
	if diff.Mutations() > 0 {
		ev = s.logger.Info()
	}
	ev.Str(log.FieldEvent, "sync.done").
		Str("collection", collection).
		Int("upserted", diff.Upserted).
		Int("deleted", diff.Deleted).
		Int("unchanged", diff.Unchanged).
		Dur("took", time.Since(start)).
		Msg("sync finished")
	return diff, nil
}
