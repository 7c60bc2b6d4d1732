// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transfer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/harekaze/internal/log"
	"github.com/google/uuid"
)

// Progress tracks the bytes received by one transfer. It is safe for
// concurrent use.
type Progress struct {
	completed atomic.Int64
	total     atomic.Int64
}

// Completed is the number of bytes written so far.
func (p *Progress) Completed() int64 { return p.completed.Load() }

// Total is the announced size, or 0 while unknown.
func (p *Progress) Total() int64 { return p.total.Load() }

// FractionCompleted is Completed/Total bounded to [0,1]. It is 0 while the
// total is unknown.
func (p *Progress) FractionCompleted() float64 {
	total := p.Total()
	if total <= 0 {
		return 0
	}
	f := float64(p.Completed()) / float64(total)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func (p *Progress) add(n int64) { p.completed.Add(n) }

func (p *Progress) setTotal(n int64) {
	if n < 0 {
		n = 0
	}
	p.total.Store(n)
}

// Snapshot is a JSON view of a Progress.
type Snapshot struct {
	ID        string  `json:"id"`
	Completed int64   `json:"completed"`
	Total     int64   `json:"total"`
	Fraction  float64 `json:"fraction"`
}

// Snapshot captures the current values.
func (p *Progress) Snapshot(id string) Snapshot {
	return Snapshot{ID: id, Completed: p.Completed(), Total: p.Total(), Fraction: p.FractionCompleted()}
}

// Result is delivered to Session.OnComplete when a transfer ends.
type Result struct {
	DownloadID string
	SessionID  string
	Size       int64
	Canceled   bool
	Err        error
}

// Session is the detached execution context of one download. It outlives
// the request that started it.
type Session struct {
	ID         string
	DownloadID string
	// OnComplete runs once when the transfer ends, whatever the outcome.
	OnComplete func(Result)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newSession(parent context.Context, downloadID string) *Session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(log.ContextWithTransfer(parent, downloadID, id))
	return &Session{
		ID:         id,
		DownloadID: downloadID,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Context is cancelled by Cancel or manager shutdown.
func (s *Session) Context() context.Context { return s.ctx }

// Done is closed after OnComplete returned.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) finish(r Result) {
	s.once.Do(func() {
		r.DownloadID = s.DownloadID
		r.SessionID = s.ID
		if s.OnComplete != nil {
			s.OnComplete(r)
		}
		s.cancel()
		close(s.done)
	})
}

// Handle is the cancellable registration of an in-flight request.
type Handle struct {
	Session  *Session
	Progress *Progress
}

// NewHandle binds a fresh Progress to a session.
func NewHandle(s *Session) *Handle {
	return &Handle{Session: s, Progress: &Progress{}}
}
