// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/ManuGH/harekaze/internal/log"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Clock abstracts time for the scheduler loop.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer abstracts time.Timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

// RealClock implements Clock with the time package.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
func (RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) C() <-chan time.Time        { return r.t.C }
func (r *realTimer) Stop() bool                 { return r.t.Stop() }
func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }

// Scheduler runs SyncAll periodically and on demand. Failed runs back off
// exponentially up to MaxInterval.
type Scheduler struct {
	syncer *Syncer
	logger zerolog.Logger

	BaseInterval time.Duration
	MaxInterval  time.Duration
	Jitter       time.Duration
	StartupDelay time.Duration

	clock   Clock
	trigger chan struct{}
	flight  singleflight.Group

	mu              sync.Mutex
	currentInterval time.Duration
	lastRun         time.Time
	lastResult      Result
	lastErr         error
}

// NewScheduler returns a scheduler with a 5 minute base interval.
func NewScheduler(syncer *Syncer) *Scheduler {
	return &Scheduler{
		syncer:       syncer,
		logger:       log.WithComponent("catalog.scheduler"),
		BaseInterval: 5 * time.Minute,
		MaxInterval:  time.Hour,
		StartupDelay: 0,
		clock:        RealClock{},
		trigger:      make(chan struct{}, 1),
	}
}

// WithClock replaces the clock, for tests.
func (s *Scheduler) WithClock(c Clock) *Scheduler {
	s.clock = c
	return s
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().
		Str("interval", s.BaseInterval.String()).
		Str("max_interval", s.MaxInterval.String()).
		Msg("sync scheduler started")

	timer := s.clock.NewTimer(s.nextDuration(true))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sync scheduler stopping")
			return nil
		case <-s.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C():
				default:
				}
			}
		case <-timer.C():
		}

		if _, err := s.RunNow(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.increaseBackoff()
		} else {
			s.resetBackoff()
		}
		timer.Reset(s.nextDuration(false))
	}
}

// Trigger asks the loop to sync as soon as possible. It never blocks.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// RunNow syncs immediately. Concurrent callers share one run.
func (s *Scheduler) RunNow(ctx context.Context) (Result, error) {
	v, err, _ := s.flight.Do("sync", func() (any, error) {
		res, err := s.syncer.SyncAll(ctx)
		s.mu.Lock()
		s.lastRun = s.clock.Now()
		s.lastResult = res
		s.lastErr = err
		s.mu.Unlock()
		return res, err
	})
	res, _ := v.(Result)
	return res, err
}

// Status describes the most recent run.
type Status struct {
	LastRun      time.Time     `json:"lastRun"`
	LastResult   Result        `json:"lastResult"`
	LastError    string        `json:"lastError,omitempty"`
	NextInterval time.Duration `json:"nextInterval"`
}

// Status returns a snapshot of the last run.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{LastRun: s.lastRun, LastResult: s.lastResult, NextInterval: s.currentInterval}
	if st.NextInterval == 0 {
		st.NextInterval = s.BaseInterval
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Scheduler) nextDuration(isFirst bool) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if isFirst {
		return s.StartupDelay + s.jitterDuration()
	}
	interval := s.currentInterval
	if interval == 0 {
		interval = s.BaseInterval
	}
	return interval + s.jitterDuration()
}

func (s *Scheduler) jitterDuration() time.Duration {
	if s.Jitter <= 0 {
		return 0
	}
	ms := int64(s.Jitter / time.Millisecond)
	if ms == 0 {
		return 0
	}
	delta := rand.Int63n(ms*2) - ms // #nosec G404 -- jitter only
	return time.Duration(delta) * time.Millisecond
}

func (s *Scheduler) increaseBackoff() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentInterval == 0 {
		s.currentInterval = s.BaseInterval
	}
	s.currentInterval *= 2
	if s.MaxInterval > 0 && s.currentInterval > s.MaxInterval {
		s.currentInterval = s.MaxInterval
	}
	s.logger.Info().Str("next_interval", s.currentInterval.String()).Msg("sync failed, backing off")
}

func (s *Scheduler) resetBackoff() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentInterval != 0 && s.currentInterval != s.BaseInterval {
		s.logger.Info().Str("next_interval", s.BaseInterval.String()).Msg("sync recovered, reset backoff")
	}
	s.currentInterval = s.BaseInterval
}
