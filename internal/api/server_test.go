// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/harekaze/internal/cache"
	"github.com/ManuGH/harekaze/internal/catalog"
	"github.com/ManuGH/harekaze/internal/changefeed"
	"github.com/ManuGH/harekaze/internal/chinachu"
	"github.com/ManuGH/harekaze/internal/downloads"
	"github.com/ManuGH/harekaze/internal/model"
	"github.com/ManuGH/harekaze/internal/reconcile"
	"github.com/ManuGH/harekaze/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	mu           sync.Mutex
	recordings   map[string]model.Recording
	recordingErr error
	statusErr    error
	previews     atomic.Int32
	timerCalls   []string
	mutationErr  error
}

func (f *fakeRemote) Status(context.Context) (*chinachu.Status, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &chinachu.Status{Connected: 2}, nil
}

func (f *fakeRemote) Recording(_ context.Context, id string) (*model.Recording, error) {
	if f.recordingErr != nil {
		return nil, f.recordingErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recordings[id]
	if !ok {
		return nil, &chinachu.ResponseError{Operation: "recording", Status: http.StatusNotFound}
	}
	return &rec, nil
}

func (f *fakeRemote) Preview(_ context.Context, id string, opts chinachu.PreviewOptions) ([]byte, error) {
	f.previews.Add(1)
	return []byte(fmt.Sprintf("png:%s:%dx%d@%d", id, opts.Width, opts.Height, opts.Pos)), nil
}

func (f *fakeRemote) record(op, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutationErr != nil {
		return f.mutationErr
	}
	f.timerCalls = append(f.timerCalls, op+":"+id)
	return nil
}

func (f *fakeRemote) AddTimer(_ context.Context, id string) error    { return f.record("add", id) }
func (f *fakeRemote) DeleteTimer(_ context.Context, id string) error { return f.record("delete", id) }
func (f *fakeRemote) SkipTimer(_ context.Context, id string) error   { return f.record("skip", id) }
func (f *fakeRemote) UnskipTimer(_ context.Context, id string) error { return f.record("unskip", id) }
func (f *fakeRemote) DeleteRecording(_ context.Context, id string) error {
	return f.record("delete-recording", id)
}

type fakeCatalog struct {
	recordings []model.Recording
	timers     []model.Timer
	channels   []model.Channel
	programs   []model.Program
	deleted    []string
}

func (f *fakeCatalog) Recordings(context.Context) ([]model.Recording, error) { return f.recordings, nil }

func (f *fakeCatalog) Recording(_ context.Context, id string) (*model.Recording, error) {
	for _, r := range f.recordings {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (f *fakeCatalog) DeleteRecording(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return catalog.ErrNotFound
}

func (f *fakeCatalog) Timers(context.Context) ([]model.Timer, error)     { return f.timers, nil }
func (f *fakeCatalog) Channels(context.Context) ([]model.Channel, error) { return f.channels, nil }
func (f *fakeCatalog) Programs(context.Context) ([]model.Program, error) { return f.programs, nil }

type fakeSyncer struct {
	triggers atomic.Int32
	err      error
}

func (f *fakeSyncer) RunNow(context.Context) (catalog.Result, error) {
	return catalog.Result{Recordings: catalog.Diff{Upserted: 1}}, f.err
}
func (f *fakeSyncer) Trigger()               { f.triggers.Add(1) }
func (f *fakeSyncer) Status() catalog.Status { return catalog.Status{NextInterval: time.Minute} }

type fakeDownloads struct {
	mu    sync.Mutex
	items map[string]model.Download
}

func (f *fakeDownloads) List(context.Context) ([]model.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Download, 0, len(f.items))
	for _, d := range f.items {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDownloads) Get(_ context.Context, id string) (*model.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.items[id]
	if !ok {
		return nil, downloads.ErrNotFound
	}
	return &d, nil
}

func (f *fakeDownloads) SetLastPlayed(_ context.Context, id string, pos float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.items[id]
	if !ok {
		return downloads.ErrNotFound
	}
	d.LastPlayed = model.ClampPosition(pos)
	f.items[id] = d
	return nil
}

type fakeTransfers struct {
	mu       sync.Mutex
	active   map[string]*transfer.Progress
	startErr error
	removed  []string
}

func (f *fakeTransfers) Start(_ context.Context, rec model.Recording) (*transfer.Progress, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &transfer.Progress{}
	f.active[rec.ID] = p
	return p, nil
}

func (f *fakeTransfers) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, id)
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeTransfers) Cancel(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.active[id]
	delete(f.active, id)
	return ok
}

func (f *fakeTransfers) Progress(id string) (*transfer.Progress, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.active[id]
	return p, ok
}

type fakeReconciler struct {
	runs atomic.Int32
	err  error
}

func (f *fakeReconciler) Run(context.Context) (reconcile.Report, error) {
	f.runs.Add(1)
	return reconcile.Report{Purged: []string{"gone"}}, f.err
}

type harness struct {
	remote     *fakeRemote
	catalog    *fakeCatalog
	syncer     *fakeSyncer
	downloads  *fakeDownloads
	transfers  *fakeTransfers
	reconciler *fakeReconciler
	feed       *changefeed.Feed
	server     *Server
}

func testRecording(id, channel string, start time.Time) model.Recording {
	return model.Recording{Program: model.Program{
		ID:      id,
		Title:   "Program " + id,
		Channel: model.Channel{ID: channel, Name: "Channel " + channel},
		Start:   start,
		End:     start.Add(30 * time.Minute),
		Seconds: 1800,
	}}
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	now := time.Date(2025, 4, 1, 20, 0, 0, 0, time.UTC)
	h := &harness{
		remote:     &fakeRemote{recordings: map[string]model.Recording{"remote1": testRecording("remote1", "ch1", now)}},
		catalog:    &fakeCatalog{recordings: []model.Recording{testRecording("rec1", "ch1", now)}},
		syncer:     &fakeSyncer{},
		downloads:  &fakeDownloads{items: map[string]model.Download{}},
		transfers:  &fakeTransfers{active: map[string]*transfer.Progress{}},
		reconciler: &fakeReconciler{},
		feed:       changefeed.New(8),
	}
	mem := cache.NewMemoryCache(time.Minute, 16)
	t.Cleanup(func() {
		_ = mem.Close()
		h.feed.Close()
	})
	h.server = New(Deps{
		Remote:     h.remote,
		Catalog:    h.catalog,
		Syncer:     h.syncer,
		Downloads:  h.downloads,
		Transfers:  h.transfers,
		Reconciler: h.reconciler,
		Feed:       h.feed,
		Previews:   cache.NewReadThrough(mem),
	}, opts)
	return h
}

func (h *harness) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) Problem {
	t.Helper()
	var p Problem
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p), rr.Body.String())
	return p
}

func TestHealthAndReadiness(t *testing.T) {
	h := newHarness(t, Options{Version: "1.2.3", Token: "secret"})

	rr := h.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","version":"1.2.3"}`, rr.Body.String())

	rr = h.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"connected":2`)

	h.remote.statusErr = fmt.Errorf("%w: status: dial tcp: refused", chinachu.ErrConnection)
	rr = h.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "not_ready", decodeProblem(t, rr).Error)
}

func TestRecordings(t *testing.T) {
	h := newHarness(t, Options{})

	rr := h.do(t, http.MethodGet, "/api/recordings", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var recs []model.Recording
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "rec1", recs[0].ID)

	t.Run("catalog hit", func(t *testing.T) {
		rr := h.do(t, http.MethodGet, "/api/recordings/rec1", "")
		assert.Equal(t, http.StatusOK, rr.Code)
	})
	t.Run("falls back to server", func(t *testing.T) {
		rr := h.do(t, http.MethodGet, "/api/recordings/remote1", "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"id":"remote1"`)
	})
	t.Run("unknown", func(t *testing.T) {
		rr := h.do(t, http.MethodGet, "/api/recordings/nope", "")
		require.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "not_found", decodeProblem(t, rr).Error)
	})
	t.Run("empty list is an array", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.catalog.recordings = nil
		rr := h.do(t, http.MethodGet, "/api/recordings", "")
		assert.Equal(t, "[]\n", rr.Body.String())
	})
}

func TestDeleteRecording(t *testing.T) {
	h := newHarness(t, Options{})
	rr := h.do(t, http.MethodDelete, "/api/recordings/rec1", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []string{"delete-recording:rec1"}, h.remote.timerCalls)
	assert.Equal(t, []string{"rec1"}, h.catalog.deleted)
	assert.EqualValues(t, 1, h.syncer.triggers.Load())
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"connection", fmt.Errorf("%w: recording: timeout", chinachu.ErrConnection), http.StatusBadGateway, "upstream_unavailable"},
		{"upstream 404", &chinachu.ResponseError{Operation: "recording", Status: 404}, http.StatusNotFound, "not_found"},
		{"upstream 500", &chinachu.ResponseError{Operation: "recording", Status: 500}, http.StatusBadGateway, "upstream_error"},
		{"upstream 401", &chinachu.ResponseError{Operation: "recording", Status: 401}, http.StatusBadGateway, "upstream_error"},
		{"request", fmt.Errorf("%w: recording: bad url", chinachu.ErrRequest), http.StatusInternalServerError, "bad_upstream_request"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			h.remote.recordingErr = tt.err
			rr := h.do(t, http.MethodGet, "/api/recordings/unknown", "")
			require.Equal(t, tt.code, rr.Code)
			assert.Equal(t, tt.kind, decodeProblem(t, rr).Error)
		})
	}
}

func TestPreview(t *testing.T) {
	h := newHarness(t, Options{PreviewTTL: time.Minute})

	rr := h.do(t, http.MethodGet, "/api/recordings/rec1/preview?width=320&height=180&pos=60", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.Equal(t, "private, max-age=60", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "png:rec1:320x180@60", rr.Body.String())

	rr = h.do(t, http.MethodGet, "/api/recordings/rec1/preview?width=320&height=180&pos=60", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 1, h.remote.previews.Load(), "second request is served from cache")

	rr = h.do(t, http.MethodGet, "/api/recordings/rec1/preview", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "png:rec1:640x360@30", rr.Body.String())

	for _, q := range []string{"width=4000", "height=-1", "pos=abc", "pos=90000"} {
		rr := h.do(t, http.MethodGet, "/api/recordings/rec1/preview?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

func TestTimers(t *testing.T) {
	h := newHarness(t, Options{})

	rr := h.do(t, http.MethodGet, "/api/timers", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]\n", rr.Body.String())

	rr = h.do(t, http.MethodPost, "/api/timers", `{"programId":" p1 "}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.JSONEq(t, `{"programId":"p1"}`, rr.Body.String())

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodPut, "/api/timers/p1/skip", "").Code)
	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodPut, "/api/timers/p1/unskip", "").Code)
	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/timers/p1", "").Code)
	assert.Equal(t, []string{"add:p1", "skip:p1", "unskip:p1", "delete:p1"}, h.remote.timerCalls)
	assert.EqualValues(t, 4, h.syncer.triggers.Load())

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/timers", `{"programId":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/timers", `{"program":"x"}`).Code)

	h.remote.mutationErr = &chinachu.ResponseError{Operation: "skip", Status: 404}
	rr = h.do(t, http.MethodPut, "/api/timers/missing/skip", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGuide(t *testing.T) {
	h := newHarness(t, Options{})
	base := time.Date(2025, 4, 1, 18, 0, 0, 0, time.UTC)
	h.catalog.channels = []model.Channel{{ID: "ch1", Name: "One"}, {ID: "ch2", Name: "Two"}}
	h.catalog.programs = []model.Program{
		{ID: "b", Channel: model.Channel{ID: "ch1"}, Start: base.Add(time.Hour)},
		{ID: "a", Channel: model.Channel{ID: "ch1"}, Start: base},
	}

	rr := h.do(t, http.MethodGet, "/api/guide", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var guide []GuideChannel
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &guide))
	require.Len(t, guide, 2)
	require.Len(t, guide[0].Programs, 2)
	assert.Equal(t, "a", guide[0].Programs[0].ID)
	assert.Empty(t, guide[1].Programs)

	rr = h.do(t, http.MethodGet, "/api/guide?channel=ch2", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &guide))
	require.Len(t, guide, 1)
	assert.Equal(t, "ch2", guide[0].Channel.ID)
}

func TestSync(t *testing.T) {
	h := newHarness(t, Options{})
	rr := h.do(t, http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"recordings"`)

	rr = h.do(t, http.MethodGet, "/api/sync", "")
	require.Equal(t, http.StatusOK, rr.Code)

	h.syncer.err = fmt.Errorf("%w: recorded: refused", chinachu.ErrConnection)
	rr = h.do(t, http.MethodPost, "/api/sync", "")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestDownloadsFlow(t *testing.T) {
	h := newHarness(t, Options{})

	rr := h.do(t, http.MethodPost, "/api/downloads", `{"id":"rec1"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "/api/downloads/rec1", rr.Header().Get("Location"))

	rr = h.do(t, http.MethodGet, "/api/downloads/rec1/progress", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap transfer.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, "rec1", snap.ID)

	rec := testRecording("rec1", "ch1", time.Now())
	h.downloads.items["rec1"] = model.Download{ID: "rec1", Recording: &rec}

	rr = h.do(t, http.MethodGet, "/api/downloads", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []DownloadView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.False(t, list[0].IsComplete)
	require.NotNil(t, list[0].Progress)
	assert.EqualValues(t, 1, h.reconciler.runs.Load())

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodPost, "/api/downloads/rec1/cancel", "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/api/downloads/rec1/cancel", "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/downloads/rec1/progress", "").Code)

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/api/downloads/rec1", "").Code)
	assert.Equal(t, []string{"rec1"}, h.transfers.removed)
}

func TestCreateDownloadErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		startErr error
		code     int
	}{
		{"missing id", `{"id":""}`, nil, http.StatusBadRequest},
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"unknown recording", `{"id":"nope"}`, nil, http.StatusNotFound},
		{"already downloaded", `{"id":"rec1"}`, transfer.ErrAlreadyDownloaded, http.StatusConflict},
		{"in progress", `{"id":"rec1"}`, transfer.ErrInProgress, http.StatusConflict},
		{"shutting down", `{"id":"rec1"}`, transfer.ErrShutdown, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{})
			h.transfers.startErr = tt.startErr
			rr := h.do(t, http.MethodPost, "/api/downloads", tt.body)
			assert.Equal(t, tt.code, rr.Code, rr.Body.String())
		})
	}
}

func TestDownloadsListSurvivesReconcileFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.reconciler.err = errors.New("documents directory unreadable")
	h.downloads.items["done"] = model.Download{ID: "done", Size: 42}

	rr := h.do(t, http.MethodGet, "/api/downloads", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"complete":true`)

	rr = h.do(t, http.MethodPost, "/api/reconcile", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestPosition(t *testing.T) {
	h := newHarness(t, Options{})
	h.downloads.items["d1"] = model.Download{ID: "d1", Size: 10}

	tests := []struct {
		name string
		id   string
		body string
		code int
		want float64
	}{
		{"valid", "d1", `{"lastPlayed":0.25}`, http.StatusNoContent, 0.25},
		{"clamped", "d1", `{"lastPlayed":7}`, http.StatusNoContent, 1},
		{"missing field", "d1", `{}`, http.StatusBadRequest, 1},
		{"wrong type", "d1", `{"lastPlayed":"half"}`, http.StatusBadRequest, 1},
		{"unknown download", "d2", `{"lastPlayed":0.5}`, http.StatusNotFound, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := h.do(t, http.MethodPut, "/api/downloads/"+tt.id+"/position", tt.body)
			require.Equal(t, tt.code, rr.Code, rr.Body.String())
			assert.InDelta(t, tt.want, h.downloads.items["d1"].LastPlayed, 1e-9)
		})
	}
}

func TestReconcileEndpoint(t *testing.T) {
	h := newHarness(t, Options{})
	rr := h.do(t, http.MethodPost, "/api/reconcile", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"purged":["gone"]`)
}

func TestTokenAuth(t *testing.T) {
	h := newHarness(t, Options{Token: "secret"})

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/api/openapi.json", "").Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodGet, "/api/recordings", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/recordings", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestUnknownRoutes(t *testing.T) {
	h := newHarness(t, Options{})
	rr := h.do(t, http.MethodGet, "/api/nope", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", decodeProblem(t, rr).Error)

	rr = h.do(t, http.MethodPatch, "/api/recordings", "")
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestEventsStream(t *testing.T) {
	h := newHarness(t, Options{Token: "secret", Heartbeat: time.Hour})
	srv := httptest.NewServer(h.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?collections=downloads&token=secret", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return h.feed.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, h.feed.Publish(ctx, changefeed.Event{Collection: changefeed.Recordings, Op: changefeed.OpUpsert, ID: "skipped"}))
	require.NoError(t, h.feed.Publish(ctx, changefeed.Event{Collection: changefeed.Downloads, Op: changefeed.OpUpsert, ID: "d1"}))

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, "data: ") {
			lines = append(lines, line)
			break
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	require.Equal(t, []string{"retry: 3000", "id: 1", "event: downloads"}, lines[:3])
	var ev changefeed.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[3], "data: ")), &ev))
	assert.Equal(t, "d1", ev.ID)
	assert.Equal(t, changefeed.OpUpsert, ev.Op)
}

func TestEventsClosedFeed(t *testing.T) {
	h := newHarness(t, Options{})
	h.feed.Close()
	rr := h.do(t, http.MethodGet, "/api/events", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
