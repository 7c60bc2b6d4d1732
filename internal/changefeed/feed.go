// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package changefeed fans out store mutations to interested subscribers.
package changefeed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/harekaze/internal/log"
	"github.com/ManuGH/harekaze/internal/metrics"
)

// Collection names used by the stores.
const (
	Recordings = "recordings"
	Timers     = "timers"
	Programs   = "programs"
	Channels   = "channels"
	Downloads  = "downloads"
)

// Op is the kind of mutation.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Event describes one committed change.
type Event struct {
	Collection string    `json:"collection"`
	Op         Op        `json:"op"`
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
}

// ErrClosed is returned by Subscribe after the feed was closed.
var ErrClosed = errors.New("changefeed: closed")

const (
	// DefaultBuffer is the per-subscriber queue length.
	DefaultBuffer = 64
	dropLogEvery  = 100
)

// Feed is an in-process pub/sub. Publish never blocks: a subscriber whose
// buffer is full misses the event.
type Feed struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
	drops  atomic.Uint64
	now    func() time.Time
}

// New returns a feed with the given per-subscriber buffer (DefaultBuffer if <= 0).
func New(buffer int) *Feed {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Feed{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		now:    time.Now,
	}
}

// Publish delivers ev to every subscriber interested in its collection.
// A zero At is stamped with the current time.
func (f *Feed) Publish(ctx context.Context, ev Event) error {
	if ctx == nil {
		return errors.New("publish context is nil")
	}
	if err := ctx.Err(); err != nil {
		metrics.IncFeedDrop(ev.Collection, "canceled")
		return err
	}
	if ev.At.IsZero() {
		ev.At = f.now().UTC()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		metrics.IncFeedDrop(ev.Collection, "closed")
		return nil
	}
	metrics.IncFeedPublished(ev.Collection)
	for sub := range f.subs {
		if !sub.wants(ev.Collection) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			metrics.IncFeedDrop(ev.Collection, "full")
			count := f.drops.Add(1)
			if count%dropLogEvery == 1 {
				logger := log.WithComponent("changefeed")
				logger.Warn().
					Str("collection", ev.Collection).
					Uint64("dropped", count).
					Msg("subscriber buffer full, dropping change events")
			}
		}
	}
	return nil
}

// PublishAll publishes a batch. It stops at the first error.
func (f *Feed) PublishAll(ctx context.Context, evs []Event) error {
	for _, ev := range evs {
		if err := f.Publish(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a subscriber for the named collections, or for all of
// them when none are given.
func (f *Feed) Subscribe(collections ...string) (*Subscription, error) {
	sub := &Subscription{feed: f, ch: make(chan Event, f.buffer)}
	if len(collections) > 0 {
		sub.filter = make(map[string]struct{}, len(collections))
		for _, c := range collections {
			sub.filter[c] = struct{}{}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	f.subs[sub] = struct{}{}
	return sub, nil
}

// Subscribers returns the number of live subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Close detaches and closes every subscription.
func (f *Feed) Close() {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[*Subscription]struct{})
	f.closed = true
	f.mu.Unlock()

	for sub := range subs {
		sub.closeChan()
	}
}

// Subscription receives events until closed.
type Subscription struct {
	feed   *Feed
	ch     chan Event
	filter map[string]struct{}
	once   sync.Once
}

// C is closed when the subscription or the feed is closed.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.feed.mu.Lock()
	delete(s.feed.subs, s)
	s.feed.mu.Unlock()
	s.closeChan()
	return nil
}

func (s *Subscription) closeChan() {
	s.once.Do(func() { close(s.ch) })
}

func (s *Subscription) wants(collection string) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[collection]
	return ok
}
