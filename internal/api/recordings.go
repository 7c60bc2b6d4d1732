// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ManuGH/harekaze/internal/catalog"
	"github.com/ManuGH/harekaze/internal/chinachu"
	"github.com/ManuGH/harekaze/internal/model"
	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	recs, err := s.deps.Catalog.Recordings(r.Context())
	if err != nil {
		s.writeError(w, r, "list_recordings", err)
		return
	}
	if recs == nil {
		recs = []model.Recording{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// lookupRecording prefers the catalog and falls back to the server for
// recordings that appeared since the last sync.
func (s *Server) lookupRecording(ctx context.Context, id string) (*model.Recording, error) {
	rec, err := s.deps.Catalog.Recording(ctx, id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return nil, err
	}
	return s.deps.Remote.Recording(ctx, id)
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	rec, err := s.lookupRecording(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "get_recording", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteRecording deletes the recording on the server. The local
// download, if any, is left alone.
func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Remote.DeleteRecording(r.Context(), id); err != nil {
		s.writeError(w, r, "delete_recording", err)
		return
	}
	if err := s.deps.Catalog.DeleteRecording(r.Context(), id); err != nil && !errors.Is(err, catalog.ErrNotFound) {
		s.writeError(w, r, "delete_recording", err)
		return
	}
	s.triggerSync()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	opts, err := previewOptions(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	key := fmt.Sprintf("preview:%s:%dx%d@%d", id, opts.Width, opts.Height, opts.Pos)
	png, err := s.deps.Previews.Fetch(r.Context(), key, s.opts.PreviewTTL, func(ctx context.Context) ([]byte, error) {
		return s.deps.Remote.Preview(ctx, id, opts)
	})
	if err != nil {
		s.writeError(w, r, "preview", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", int(s.opts.PreviewTTL.Seconds())))
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func previewOptions(r *http.Request) (chinachu.PreviewOptions, error) {
	var opts chinachu.PreviewOptions
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
		max  int
	}{
		{"width", &opts.Width, 1920},
		{"height", &opts.Height, 1080},
		{"pos", &opts.Pos, 24 * 60 * 60},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > p.max {
			return opts, fmt.Errorf("%s must be an integer between 0 and %d", p.name, p.max)
		}
		*p.dst = n
	}
	return opts.Normalize(), nil
}

func (s *Server) triggerSync() {
	if s.deps.Syncer != nil {
		s.deps.Syncer.Trigger()
	}
}
