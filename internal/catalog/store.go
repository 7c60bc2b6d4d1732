// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package catalog mirrors the server's recordings, reservations and guide in
// a local badger store and keeps it in sync.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ManuGH/harekaze/internal/changefeed"
	"github.com/ManuGH/harekaze/internal/model"
	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned for unknown ids.
var ErrNotFound = errors.New("catalog: not found")

const (
	prefixRecording = "rec:"
	prefixTimer     = "tmr:"
	prefixProgram   = "prg:"
	prefixChannel   = "chn:"
)

// Options selects where the catalog lives.
type Options struct {
	// Path is ignored when InMemory is set.
	Path     string
	InMemory bool
}

// Store is the badger-backed catalog. Values are JSON.
type Store struct {
	db   *badger.DB
	feed *changefeed.Feed

	// replaceMu serialises the read and write phases of replace.
	replaceMu sync.Mutex
}

// Open opens the catalog. An on-disk catalog is emptied first: it only
// caches what the server reports and is rebuilt by the first sync.
func Open(opts Options, feed *changefeed.Feed) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory || opts.Path == "" {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(opts.Path)
	}
	db, err := badger.Open(bopts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	if !bopts.InMemory {
		if err := db.DropAll(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("catalog: reset: %w", err)
		}
	}
	return &Store{db: db, feed: feed}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Diff summarises a full-replace operation.
type Diff struct {
	Upserted  int `json:"upserted"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
}

// Mutations is the number of records written or removed.
func (d Diff) Mutations() int { return d.Upserted + d.Deleted }

func (d Diff) add(o Diff) Diff {
	return Diff{Upserted: d.Upserted + o.Upserted, Deleted: d.Deleted + o.Deleted, Unchanged: d.Unchanged + o.Unchanged}
}

// PutRecording upserts one recording.
func (s *Store) PutRecording(ctx context.Context, r model.Recording) error {
	return s.put(ctx, changefeed.Recordings, prefixRecording, r.ID, r)
}

// Recording returns ErrNotFound for unknown ids.
func (s *Store) Recording(ctx context.Context, id string) (*model.Recording, error) {
	var r model.Recording
	if err := s.get(prefixRecording, id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Recordings returns all recordings, newest first.
func (s *Store) Recordings(ctx context.Context) ([]model.Recording, error) {
	out, err := list[model.Recording](s, prefixRecording)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.After(out[j].Start)
	})
	return out, nil
}

// DeleteRecording removes a recording. Unknown ids return ErrNotFound.
func (s *Store) DeleteRecording(ctx context.Context, id string) error {
	return s.delete(ctx, changefeed.Recordings, prefixRecording, id)
}

// PutTimer upserts one reservation.
func (s *Store) PutTimer(ctx context.Context, t model.Timer) error {
	return s.put(ctx, changefeed.Timers, prefixTimer, t.ID, t)
}

// Timer returns ErrNotFound for unknown ids.
func (s *Store) Timer(ctx context.Context, id string) (*model.Timer, error) {
	var t model.Timer
	if err := s.get(prefixTimer, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Timers returns all reservations in start order.
func (s *Store) Timers(ctx context.Context) ([]model.Timer, error) {
	out, err := list[model.Timer](s, prefixTimer)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

// DeleteTimer removes a reservation.
func (s *Store) DeleteTimer(ctx context.Context, id string) error {
	return s.delete(ctx, changefeed.Timers, prefixTimer, id)
}

// Program returns a guide entry.
func (s *Store) Program(ctx context.Context, id string) (*model.Program, error) {
	var p model.Program
	if err := s.get(prefixProgram, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Programs returns the guide in start order.
func (s *Store) Programs(ctx context.Context) ([]model.Program, error) {
	out, err := list[model.Program](s, prefixProgram)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

// Channels returns the known services ordered by remote-control number.
func (s *Store) Channels(ctx context.Context) ([]model.Channel, error) {
	out, err := list[model.Channel](s, prefixChannel)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ReplaceRecordings makes the stored recordings equal to recs.
func (s *Store) ReplaceRecordings(ctx context.Context, recs []model.Recording) (Diff, error) {
	items := make(map[string]any, len(recs))
	for _, r := range recs {
		items[r.ID] = r
	}
	return s.replace(ctx, map[string]replaceSet{prefixRecording: {collection: changefeed.Recordings, items: items}})
}

// ReplaceTimers makes the stored reservations equal to timers.
func (s *Store) ReplaceTimers(ctx context.Context, timers []model.Timer) (Diff, error) {
	items := make(map[string]any, len(timers))
	for _, t := range timers {
		items[t.ID] = t
	}
	return s.replace(ctx, map[string]replaceSet{prefixTimer: {collection: changefeed.Timers, items: items}})
}

// ReplaceGuide replaces channels and programs. A multi-week guide does not
// fit one badger transaction, so the writes are batched.
func (s *Store) ReplaceGuide(ctx context.Context, channels []model.Channel, programs []model.Program) (Diff, error) {
	chs := make(map[string]any, len(channels))
	for _, c := range channels {
		chs[c.ID] = c
	}
	prgs := make(map[string]any, len(programs))
	for _, p := range programs {
		prgs[p.ID] = p
	}
	return s.replace(ctx, map[string]replaceSet{
		prefixChannel: {collection: changefeed.Channels, items: chs},
		prefixProgram: {collection: changefeed.Programs, items: prgs},
	})
}

type replaceSet struct {
	collection string
	items      map[string]any
}

// replace upserts every item of each set and deletes stored keys under the
// set's prefix that are absent. Byte-identical values are left untouched.
// The diff is computed in one read transaction and applied through a write
// batch that commits as often as badger requires. A failed write leaves a
// partial replace that the next sync completes.
func (s *Store) replace(ctx context.Context, sets map[string]replaceSet) (Diff, error) {
	s.replaceMu.Lock()
	defer s.replaceMu.Unlock()

	type write struct {
		key []byte
		val []byte // nil deletes
	}
	var (
		diff   Diff
		writes []write
		events []changefeed.Event
	)
	prefixes := make([]string, 0, len(sets))
	for prefix := range sets {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)

	err := s.db.View(func(txn *badger.Txn) error {
		for _, prefix := range prefixes {
			set := sets[prefix]
			encoded := make(map[string][]byte, len(set.items))
			for id, v := range set.items {
				if id == "" {
					continue
				}
				b, err := json.Marshal(v)
				if err != nil {
					return fmt.Errorf("encode %s%s: %w", prefix, id, err)
				}
				encoded[id] = b
			}

			unchanged := make(map[string]bool, len(encoded))
			it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: []byte(prefix)})
			for it.Rewind(); it.Valid(); it.Next() {
				item := it.Item()
				key := item.KeyCopy(nil)
				id := string(key[len(prefix):])
				want, ok := encoded[id]
				if !ok {
					writes = append(writes, write{key: key})
					diff.Deleted++
					events = append(events, changefeed.Event{Collection: set.collection, Op: changefeed.OpDelete, ID: id})
					continue
				}
				same := false
				if err := item.Value(func(val []byte) error {
					same = bytes.Equal(val, want)
					return nil
				}); err != nil {
					it.Close()
					return err
				}
				if same {
					diff.Unchanged++
					unchanged[id] = true
				}
			}
			it.Close()

			ids := make([]string, 0, len(encoded))
			for id := range encoded {
				if !unchanged[id] {
					ids = append(ids, id)
				}
			}
			sort.Strings(ids)
			for _, id := range ids {
				writes = append(writes, write{key: []byte(prefix + id), val: encoded[id]})
				diff.Upserted++
				events = append(events, changefeed.Event{Collection: set.collection, Op: changefeed.OpUpsert, ID: id})
			}
		}
		return nil
	})
	if err != nil {
		return Diff{}, fmt.Errorf("catalog: replace: %w", err)
	}
	if len(writes) == 0 {
		return diff, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, w := range writes {
		if err := ctx.Err(); err != nil {
			return Diff{}, fmt.Errorf("catalog: replace: %w", err)
		}
		if w.val == nil {
			err = wb.Delete(w.key)
		} else {
			err = wb.Set(w.key, w.val)
		}
		if err != nil {
			return Diff{}, fmt.Errorf("catalog: replace %s: %w", w.key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return Diff{}, fmt.Errorf("catalog: replace: %w", err)
	}
	s.publish(ctx, events...)
	return diff, nil
}

func (s *Store) put(ctx context.Context, collection, prefix, id string, v any) error {
	if id == "" {
		return errors.New("catalog: empty id")
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefix+id), buf)
	}); err != nil {
		return fmt.Errorf("catalog: put %s%s: %w", prefix, id, err)
	}
	s.publish(ctx, changefeed.Event{Collection: collection, Op: changefeed.OpUpsert, ID: id})
	return nil
}

func (s *Store) get(prefix, id string, out any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Store) delete(ctx context.Context, collection, prefix, id string) error {
	key := []byte(prefix + id)
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("catalog: delete %s%s: %w", prefix, id, err)
	}
	s.publish(ctx, changefeed.Event{Collection: collection, Op: changefeed.OpDelete, ID: id})
	return nil
}

func list[T any](s *Store, prefix string) ([]T, error) {
	out := []T{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: []byte(prefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var v T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: list %s: %w", prefix, err)
	}
	return out, nil
}

func (s *Store) publish(ctx context.Context, events ...changefeed.Event) {
	if s.feed == nil || len(events) == 0 {
		return
	}
	_ = s.feed.PublishAll(context.WithoutCancel(ctx), events)
}
