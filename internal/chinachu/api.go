// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chinachu

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ManuGH/harekaze/internal/model"
)

// Recorded lists every recording known to the server.
func (c *Client) Recorded(ctx context.Context) ([]model.Recording, error) {
	var wire []Program
	if err := c.getJSON(ctx, "recorded", "recorded.json", nil, &wire); err != nil {
		return nil, err
	}
	out := make([]model.Recording, 0, len(wire))
	for _, p := range wire {
		if p.ID == "" {
			continue
		}
		out = append(out, p.ToRecording())
	}
	return out, nil
}

// Recording fetches the detail of a single recording.
func (c *Client) Recording(ctx context.Context, id string) (*model.Recording, error) {
	var wire Program
	if err := c.getJSON(ctx, "recording", "recorded/"+url.PathEscape(id)+".json", nil, &wire); err != nil {
		return nil, err
	}
	rec := wire.ToRecording()
	return &rec, nil
}

// Reserves lists the reservations (timers).
func (c *Client) Reserves(ctx context.Context) ([]model.Timer, error) {
	var wire []Program
	if err := c.getJSON(ctx, "reserves", "reserves.json", nil, &wire); err != nil {
		return nil, err
	}
	out := make([]model.Timer, 0, len(wire))
	for _, p := range wire {
		if p.ID == "" {
			continue
		}
		out = append(out, p.ToTimer())
	}
	return out, nil
}

// GuideChannel groups the guide entries of one service.
type GuideChannel struct {
	Channel  model.Channel
	Programs []model.Program
}

// Schedule returns the program guide grouped by channel.
func (c *Client) Schedule(ctx context.Context) ([]GuideChannel, error) {
	var wire []ScheduleChannel
	if err := c.getJSON(ctx, "schedule", "schedule.json", nil, &wire); err != nil {
		return nil, err
	}
	out := make([]GuideChannel, 0, len(wire))
	for _, ch := range wire {
		gc := GuideChannel{Channel: ch.Channel.ToModel(), Programs: make([]model.Program, 0, len(ch.Programs))}
		for _, p := range ch.Programs {
			if p.ID == "" {
				continue
			}
			gc.Programs = append(gc.Programs, p.ToModel())
		}
		out = append(out, gc)
	}
	return out, nil
}

// PreviewOptions selects the size and position of a preview frame.
type PreviewOptions struct {
	Width  int
	Height int
	// Pos is the offset into the recording in seconds.
	Pos int
}

const (
	defaultPreviewWidth  = 640
	defaultPreviewHeight = 360
	defaultPreviewPos    = 30
)

// Normalize fills unset fields with defaults.
func (o PreviewOptions) Normalize() PreviewOptions {
	if o.Width <= 0 {
		o.Width = defaultPreviewWidth
	}
	if o.Height <= 0 {
		o.Height = defaultPreviewHeight
	}
	if o.Pos < 0 {
		o.Pos = 0
	} else if o.Pos == 0 {
		o.Pos = defaultPreviewPos
	}
	return o
}

// Preview returns a PNG frame of the recording.
func (c *Client) Preview(ctx context.Context, id string, opts PreviewOptions) ([]byte, error) {
	opts = opts.Normalize()
	params := url.Values{}
	params.Set("width", strconv.Itoa(opts.Width))
	params.Set("height", strconv.Itoa(opts.Height))
	params.Set("pos", strconv.Itoa(opts.Pos))

	resp, err := c.do(ctx, call{
		operation: "preview",
		method:    http.MethodGet,
		path:      "recorded/" + url.PathEscape(id) + "/preview.png",
		params:    params,
		retry:     true,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, connectionError("preview", err)
	}
	return b, nil
}

// WatchOptions selects the container and codecs of the media stream.
type WatchOptions struct {
	Ext        string
	VideoCodec string
	AudioCodec string
}

// Normalize fills unset fields with a stream copy of the original container.
func (o WatchOptions) Normalize() WatchOptions {
	o.Ext = strings.TrimPrefix(strings.TrimSpace(o.Ext), ".")
	if o.Ext == "" {
		o.Ext = "m2ts"
	}
	if o.VideoCodec == "" {
		o.VideoCodec = "copy"
	}
	if o.AudioCodec == "" {
		o.AudioCodec = "copy"
	}
	return o
}

// Stream is an open media body. The caller must Close it.
type Stream struct {
	Body io.ReadCloser
	// ContentLength is -1 when the server did not announce a length.
	ContentLength int64
	ContentType   string
}

func (s *Stream) Close() error {
	if s == nil || s.Body == nil {
		return nil
	}
	return s.Body.Close()
}

// Watch opens the media stream of a recording. It is never retried.
func (c *Client) Watch(ctx context.Context, id string, opts WatchOptions) (*Stream, error) {
	opts = opts.Normalize()
	params := url.Values{}
	params.Set("ext", opts.Ext)
	params.Set("c:v", opts.VideoCodec)
	params.Set("c:a", opts.AudioCodec)

	resp, err := c.do(ctx, call{
		operation: "watch",
		method:    http.MethodGet,
		path:      "recorded/" + url.PathEscape(id) + "/watch." + opts.Ext,
		params:    params,
		stream:    true,
	})
	if err != nil {
		return nil, err
	}
	return &Stream{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
	}, nil
}

// AddTimer reserves a guide program.
func (c *Client) AddTimer(ctx context.Context, programID string) error {
	return c.mutate(ctx, "add_timer", http.MethodPut, "program/"+url.PathEscape(programID)+".json")
}

// DeleteTimer removes a reservation.
func (c *Client) DeleteTimer(ctx context.Context, id string) error {
	return c.mutate(ctx, "delete_timer", http.MethodDelete, "reserves/"+url.PathEscape(id)+".json")
}

// SkipTimer marks an automatic reservation as skipped.
func (c *Client) SkipTimer(ctx context.Context, id string) error {
	return c.mutate(ctx, "skip_timer", http.MethodPut, "reserves/"+url.PathEscape(id)+"/skip.json")
}

// UnskipTimer reverts SkipTimer.
func (c *Client) UnskipTimer(ctx context.Context, id string) error {
	return c.mutate(ctx, "unskip_timer", http.MethodPut, "reserves/"+url.PathEscape(id)+"/unskip.json")
}

// DeleteRecording removes the recording entry from the server.
func (c *Client) DeleteRecording(ctx context.Context, id string) error {
	return c.mutate(ctx, "delete_recording", http.MethodDelete, "recorded/"+url.PathEscape(id)+".json")
}

// DeleteRecordingFile removes the media file but keeps the entry.
func (c *Client) DeleteRecordingFile(ctx context.Context, id string) error {
	return c.mutate(ctx, "delete_recording_file", http.MethodDelete, "recorded/"+url.PathEscape(id)+"/file.json")
}

// Status probes the server.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.getJSON(ctx, "status", "status.json", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
