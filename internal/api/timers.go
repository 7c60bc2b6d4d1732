// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/ManuGH/harekaze/internal/model"
	"github.com/go-chi/chi/v5"
)

type addTimerRequest struct {
	ProgramID string `json:"programId"`
}

func (s *Server) handleListTimers(w http.ResponseWriter, r *http.Request) {
	timers, err := s.deps.Catalog.Timers(r.Context())
	if err != nil {
		s.writeError(w, r, "list_timers", err)
		return
	}
	if timers == nil {
		timers = []model.Timer{}
	}
	writeJSON(w, http.StatusOK, timers)
}

func (s *Server) handleAddTimer(w http.ResponseWriter, r *http.Request) {
	var req addTimerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_body", "Expected {\"programId\": string}.")
		return
	}
	req.ProgramID = strings.TrimSpace(req.ProgramID)
	if req.ProgramID == "" {
		writeProblem(w, http.StatusBadRequest, "invalid_argument", "programId is required.")
		return
	}
	if err := s.deps.Remote.AddTimer(r.Context(), req.ProgramID); err != nil {
		s.writeError(w, r, "add_timer", err)
		return
	}
	s.triggerSync()
	writeJSON(w, http.StatusAccepted, req)
}

// timerMutation wraps a remote timer call; the catalog catches up on the
// next sync.
func (s *Server) timerMutation(op string, fn func(ctx context.Context, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context(), chi.URLParam(r, "id")); err != nil {
			s.writeError(w, r, op, err)
			return
		}
		s.triggerSync()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleDeleteTimer(w http.ResponseWriter, r *http.Request) {
	s.timerMutation("delete_timer", s.deps.Remote.DeleteTimer)(w, r)
}

func (s *Server) handleSkipTimer(w http.ResponseWriter, r *http.Request) {
	s.timerMutation("skip_timer", s.deps.Remote.SkipTimer)(w, r)
}

func (s *Server) handleUnskipTimer(w http.ResponseWriter, r *http.Request) {
	s.timerMutation("unskip_timer", s.deps.Remote.UnskipTimer)(w, r)
}

// GuideChannel is one row of the program guide.
type GuideChannel struct {
	Channel  model.Channel   `json:"channel"`
	Programs []model.Program `json:"programs"`
}

// handleGuide groups catalog programs by channel. ?channel= narrows to one
// channel id.
func (s *Server) handleGuide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channels, err := s.deps.Catalog.Channels(ctx)
	if err != nil {
		s.writeError(w, r, "guide", err)
		return
	}
	programs, err := s.deps.Catalog.Programs(ctx)
	if err != nil {
		s.writeError(w, r, "guide", err)
		return
	}

	only := r.URL.Query().Get("channel")
	byChannel := make(map[string][]model.Program, len(channels))
	for _, p := range programs {
		byChannel[p.Channel.ID] = append(byChannel[p.Channel.ID], p)
	}
	out := make([]GuideChannel, 0, len(channels))
	for _, ch := range channels {
		if only != "" && ch.ID != only {
			continue
		}
		progs := byChannel[ch.ID]
		sort.Slice(progs, func(i, j int) bool { return progs[i].Start.Before(progs[j].Start) })
		if progs == nil {
			progs = []model.Program{}
		}
		out = append(out, GuideChannel{Channel: ch, Programs: progs})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Syncer.RunNow(r.Context())
	if err != nil {
		s.writeError(w, r, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Syncer.Status())
}
