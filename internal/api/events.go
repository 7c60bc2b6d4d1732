// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/harekaze/internal/changefeed"
	xglog "github.com/ManuGH/harekaze/internal/log"
)

// handleEvents streams change-feed events as Server-Sent Events.
// ?collections=recordings,downloads narrows the stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feed == nil {
		writeProblem(w, http.StatusServiceUnavailable, "unavailable", "The event stream is not available.")
		return
	}
	var collections []string
	for _, c := range strings.Split(r.URL.Query().Get("collections"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			collections = append(collections, c)
		}
	}

	sub, err := s.deps.Feed.Subscribe(collections...)
	if errors.Is(err, changefeed.ErrClosed) {
		writeProblem(w, http.StatusServiceUnavailable, "shutting_down", "The service is shutting down.")
		return
	} else if err != nil {
		s.writeError(w, r, "events", err)
		return
	}
	defer func() { _ = sub.Close() }()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "retry: 3000\n\n")
	if err := rc.Flush(); err != nil {
		return
	}

	logger := xglog.WithContext(r.Context(), s.logger)
	logger.Debug().Str(xglog.FieldEvent, "events.subscribed").Strs("collections", collections).Msg("event stream opened")

	heartbeat := time.NewTicker(s.opts.Heartbeat)
	defer heartbeat.Stop()

	var seq uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			seq++
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", seq, ev.Collection, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
