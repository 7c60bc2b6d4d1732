// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/harekaze/internal/chinachu"
	"github.com/ManuGH/harekaze/internal/downloads"
	"github.com/ManuGH/harekaze/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type activeSet map[string]bool

func (a activeSet) Active(id string) bool { return a[id] }

type fixture struct {
	store *downloads.Store
	mock  *chinachu.MockServer
	docs  string
	rec   *Reconciler
}

func newFixture(t *testing.T, active activeSet) *fixture {
	t.Helper()
	store, err := downloads.Open(context.Background(), filepath.Join(t.TempDir(), "downloads.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	mock := chinachu.NewMockServer()
	t.Cleanup(mock.Close)
	client, err := chinachu.New(chinachu.Options{BaseURL: mock.URL, MaxRetries: -1})
	require.NoError(t, err)
	docs := t.TempDir()
	return &fixture{store: store, mock: mock, docs: docs, rec: New(store, client, active, docs)}
}

func (f *fixture) writeMedia(t *testing.T, id string, body string) string {
	t.Helper()
	dir := filepath.Join(f.docs, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	p := filepath.Join(dir, id+".m2ts")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestPurgesIncompleteRecords(t *testing.T) {
	f := newFixture(t, activeSet{"busy": true})
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, model.Download{ID: "stale"}))
	require.NoError(t, f.store.Create(ctx, model.Download{ID: "busy"}))

	rep, err := f.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, rep.Purged)

	_, err = f.store.Get(ctx, "stale")
	assert.ErrorIs(t, err, downloads.ErrNotFound)
	_, err = f.store.Get(ctx, "busy")
	assert.NoError(t, err)
}

func TestRestoresOrphanedFiles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.writeMedia(t, "rec1", "0123456789")
	mtime := time.Date(2024, 3, 3, 3, 3, 3, 0, time.UTC)
	require.NoError(t, os.Chtimes(p, mtime, mtime))

	rep, err := f.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"rec1"}, rep.Restored)
	assert.Equal(t, 1, rep.Mutations())

	d, err := f.store.Get(ctx, "rec1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), d.Size)
	assert.True(t, d.DownloadedAt.Equal(mtime))
	require.NotNil(t, d.Recording)
	assert.Equal(t, "Morning News", d.Recording.Title)

	// The second pass finds nothing to do.
	rep, err = f.rec.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Mutations())
	assert.Empty(t, rep.Failures)
}

func TestRestoreFailureKeepsOrphan(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.writeMedia(t, "gone", "data")

	rep, err := f.rec.Run(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "gone", rep.Failures[0].ID)
	assert.ErrorIs(t, rep.Failures[0].Err, chinachu.ErrNotFound)
	assert.Equal(t, "The requested item no longer exists on the server.", rep.Failures[0].Message)
	assert.Zero(t, rep.Mutations())

	_, err = os.Stat(filepath.Join(f.docs, "gone", "gone.m2ts"))
	assert.NoError(t, err)
}

func TestIgnoresPendingAndForeignFiles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	dir := filepath.Join(f.docs, "rec2")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".rec2.m2ts12345"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.docs, "stray.m2ts"), []byte("x"), 0o644))

	rep, err := f.rec.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.Restored)
	assert.Empty(t, rep.Failures)
	assert.Zero(t, f.mock.Calls("GET", "/api/recorded/rec2.json"))
}

func TestReportsMissingFilesWithoutMutation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, model.Download{ID: "lost", Size: 42}))

	rep, err := f.rec.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lost"}, rep.MissingFiles)
	assert.Zero(t, rep.Mutations())

	d, err := f.store.Get(ctx, "lost")
	require.NoError(t, err)
	assert.Equal(t, int64(42), d.Size)

	last, ok := f.rec.Last()
	require.True(t, ok)
	assert.Equal(t, []string{"lost"}, last.MissingFiles)
}

type countingFetcher struct {
	calls atomic.Int32
	gate  chan struct{}
}

func (c *countingFetcher) Recording(_ context.Context, id string) (*model.Recording, error) {
	c.calls.Add(1)
	<-c.gate
	return &model.Recording{Program: model.Program{ID: id}}, nil
}

func TestConcurrentRunsShareOnePass(t *testing.T) {
	store, err := downloads.Open(context.Background(), filepath.Join(t.TempDir(), "d.db"), nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	docs := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(docs, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "a", "a.ts"), []byte("x"), 0o644))

	fetcher := &countingFetcher{gate: make(chan struct{})}
	r := New(store, fetcher, nil, docs)

	results := make(chan Report, 2)
	for i := 0; i < 2; i++ {
		go func() {
			rep, _ := r.Run(context.Background())
			results <- rep
		}()
	}
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fetcher.gate)

	a, b := <-results, <-results
	assert.Equal(t, []string{"a"}, a.Restored)
	assert.Equal(t, a.Restored, b.Restored)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

// completesDuringPurge finishes the transfer of id between the store
// listing and the active check, the way transfer.run calls SetSize before
// dropping its handle.
type completesDuringPurge struct {
	store *downloads.Store
	id    string
	size  int64
}

func (c completesDuringPurge) Active(id string) bool {
	if id == c.id {
		_ = c.store.SetSize(context.Background(), id, c.size)
	}
	return false
}

func TestPurgeSparesDownloadCompletedMidPass(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.writeMedia(t, "done", "0123456789")
	f.mock.SetRecorded()
	require.NoError(t, f.store.Create(ctx, model.Download{ID: "done"}))
	f.rec.transfers = completesDuringPurge{store: f.store, id: "done", size: 10}

	rep, err := f.rec.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.Purged)
	assert.Empty(t, rep.Restored)
	assert.Empty(t, rep.Failures)

	d, err := f.store.Get(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, int64(10), d.Size)
}

func TestSharedPassSurvivesCallerCancel(t *testing.T) {
	store, err := downloads.Open(context.Background(), filepath.Join(t.TempDir(), "d.db"), nil)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	docs := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(docs, "a"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "a", "a.ts"), []byte("x"), 0o644))

	fetcher := &countingFetcher{gate: make(chan struct{})}
	r := New(store, fetcher, nil, docs)

	leaving, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := r.Run(leaving)
		first <- err
	}()
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan Report, 1)
	go func() {
		rep, _ := r.Run(context.Background())
		second <- rep
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)
	close(fetcher.gate)

	rep := <-second
	assert.Equal(t, []string{"a"}, rep.Restored)
	assert.Empty(t, rep.Failures)
	d, err := store.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Size)
}
