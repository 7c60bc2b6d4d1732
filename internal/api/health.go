// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ManuGH/harekaze/internal/chinachu"
)

const readyTimeout = 3 * time.Second

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.opts.Version})
}

// handleReadyz reports ready once the Chinachu server answers.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Remote == nil {
		writeProblem(w, http.StatusServiceUnavailable, "not_configured", "No Chinachu server is configured.")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	st, err := s.deps.Remote.Status(ctx)
	if err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "not_ready", chinachu.Message(err))
		return
	}
	body := map[string]any{"status": "ready", "connected": int64(st.Connected)}
	if s.deps.Syncer != nil {
		body["sync"] = s.deps.Syncer.Status()
	}
	writeJSON(w, http.StatusOK, body)
}
