// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chinachu

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, m *MockServer, opts Options) *Client {
	t.Helper()
	opts.BaseURL = m.URL
	if opts.Backoff == 0 {
		opts.Backoff = time.Millisecond
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = 5 * time.Millisecond
	}
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func TestParseBaseURL(t *testing.T) {
	cases := map[string]string{
		"192.168.1.10:10772":             "http://192.168.1.10:10772/api/",
		"http://pvr.local:10772/":        "http://pvr.local:10772/api/",
		"https://pvr.local/chinachu/api": "https://pvr.local/chinachu/api/",
		" http://pvr.local/api/ ":        "http://pvr.local/api/",
	}
	for in, want := range cases {
		u, err := parseBaseURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, u.String(), in)
	}

	for _, bad := range []string{"", "ftp://pvr.local", "http://"} {
		_, err := parseBaseURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "ftp://nope"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequest)
}

func TestNewTakesCredentialsFromURL(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.RequireAuth("akari", "secret")

	url := strings.Replace(m.URL, "http://", "http://akari:secret@", 1)
	c, err := New(Options{BaseURL: url})
	require.NoError(t, err)
	assert.NotContains(t, c.BaseURL(), "secret")

	_, err = c.Recorded(context.Background())
	require.NoError(t, err)
}

func TestRecorded(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	c := newTestClient(t, m, Options{})

	recs, err := c.Recorded(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)

	r := recs[0]
	assert.Equal(t, "rec1", r.ID)
	assert.Equal(t, "Morning News", r.Title)
	assert.Equal(t, "PT3-T1", r.Tuner)
	assert.Equal(t, "/recorded/rec1.m2ts", r.FilePath)
	assert.Equal(t, "GR_1024", r.Channel.ID)
	assert.Equal(t, "1024", r.Channel.ServiceID)
	assert.Equal(t, 1800, r.Seconds)
	assert.Equal(t, []string{"news"}, r.Genres)
	assert.Equal(t, time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC), r.Start)
}

func TestRecordingNotFound(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	c := newTestClient(t, m, Options{})

	_, err := c.Recording(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrResponse)

	var respErr *ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, http.StatusNotFound, respErr.Status)
	assert.Equal(t, "recording", respErr.Operation)
	// Not found is not retried.
	assert.Equal(t, 1, m.Calls(http.MethodGet, "/api/recorded/missing.json"))
}

func TestUnauthorized(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.RequireAuth("user", "pass")
	c := newTestClient(t, m, Options{Username: "user", Password: "wrong"})

	_, err := c.Reserves(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "Authentication failed. Check the username and password.", Message(err))
}

func TestGetRetriesOn5xx(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.SetFailures("/api/reserves.json", 2)
	c := newTestClient(t, m, Options{MaxRetries: 2})

	timers, err := c.Reserves(context.Background())
	require.NoError(t, err)
	require.Len(t, timers, 1)
	assert.Equal(t, 3, m.Calls(http.MethodGet, "/api/reserves.json"))
}

func TestGetGivesUpAfterMaxRetries(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.SetFailures("/api/recorded.json", 10)
	c := newTestClient(t, m, Options{MaxRetries: 1})

	_, err := c.Recorded(context.Background())
	require.Error(t, err)
	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, http.StatusServiceUnavailable, respErr.Status)
	assert.Equal(t, 2, m.Calls(http.MethodGet, "/api/recorded.json"))
}

func TestMutationsAreNotRetried(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.SetFailures("/api/reserves/res1/skip.json", 1)
	c := newTestClient(t, m, Options{MaxRetries: 3})

	err := c.SkipTimer(context.Background(), "res1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResponse)
	assert.Equal(t, 1, m.Calls(http.MethodPut, "/api/reserves/res1/skip.json"))
}

func TestTimerMutations(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	c := newTestClient(t, m, Options{})
	ctx := context.Background()

	require.NoError(t, c.AddTimer(ctx, "prg1"))
	assert.True(t, m.IsReserved("prg1"))

	require.NoError(t, c.SkipTimer(ctx, "res1"))
	timers, err := c.Reserves(ctx)
	require.NoError(t, err)
	for _, tm := range timers {
		if tm.ID == "res1" {
			assert.True(t, tm.Skip)
		}
		if tm.ID == "prg1" {
			assert.True(t, tm.Manual)
			assert.False(t, tm.Skippable())
		}
	}
	require.NoError(t, c.UnskipTimer(ctx, "res1"))

	require.NoError(t, c.DeleteTimer(ctx, "prg1"))
	assert.False(t, m.IsReserved("prg1"))

	err = c.DeleteTimer(ctx, "prg1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordingMutations(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	c := newTestClient(t, m, Options{})
	ctx := context.Background()

	require.NoError(t, c.DeleteRecordingFile(ctx, "rec1"))
	assert.True(t, m.HasRecording("rec1"))
	require.NoError(t, c.DeleteRecording(ctx, "rec1"))
	assert.False(t, m.HasRecording("rec1"))
}

func TestSchedule(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	c := newTestClient(t, m, Options{})

	guide, err := c.Schedule(context.Background())
	require.NoError(t, err)
	require.Len(t, guide, 1)
	assert.Equal(t, "NHK総合", guide[0].Channel.Name)
	require.Len(t, guide[0].Programs, 2)
	assert.Equal(t, "prg1", guide[0].Programs[0].ID)
}

func TestPreviewQuery(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	c := newTestClient(t, m, Options{})

	png, err := c.Preview(context.Background(), "rec2", PreviewOptions{Width: 320, Height: 180, Pos: 60})
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG rec2 320x180@60", string(png))

	png, err = c.Preview(context.Background(), "rec2", PreviewOptions{})
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG rec2 640x360@30", string(png))
}

func TestWatchStreamsBody(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.SetMedia("rec1", []byte("0123456789"))
	c := newTestClient(t, m, Options{Timeout: time.Millisecond * 500})

	s, err := c.Watch(context.Background(), "rec1", WatchOptions{})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, int64(10), s.ContentLength)
	assert.Equal(t, "video/mp2t", s.ContentType)

	b, err := io.ReadAll(s.Body)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(b))
}

func TestWatchSendsCodecParams(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)
	s, err := c.Watch(context.Background(), "abc", WatchOptions{Ext: ".mp4", VideoCodec: "h264", AudioCodec: "aac"})
	require.NoError(t, err)
	_ = s.Close()

	assert.Equal(t, "/api/recorded/abc/watch.mp4", gotPath)
	assert.Contains(t, gotQuery, "c%3Av=h264")
	assert.Contains(t, gotQuery, "c%3Aa=aac")
	assert.Contains(t, gotQuery, "ext=mp4")
}

func TestConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Options{BaseURL: url, MaxRetries: -1, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.Status(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.Contains(t, Message(err), "Could not connect")
}

func TestDecodeErrorIsResponseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json"))
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Recorded(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResponse)
	assert.Equal(t, "The server sent a response that could not be read.", Message(err))
}

func TestCanceledContext(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	c := newTestClient(t, m, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Recorded(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "The request was cancelled.", Message(err))
}

func TestBackoffBounded(t *testing.T) {
	c, err := New(Options{BaseURL: "http://localhost", Backoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond})
	require.NoError(t, err)
	for attempt := 0; attempt < 6; attempt++ {
		d := c.backoffFor(attempt)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond+300*time.Millisecond/5+1)
	}
}
