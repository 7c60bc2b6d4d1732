// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"math"
	"net/http"
	"strings"

	xglog "github.com/ManuGH/harekaze/internal/log"
	"github.com/ManuGH/harekaze/internal/model"
	"github.com/ManuGH/harekaze/internal/transfer"
	"github.com/go-chi/chi/v5"
)

// DownloadView is a download record plus its live progress.
type DownloadView struct {
	model.Download
	IsComplete bool               `json:"complete"`
	Progress   *transfer.Snapshot `json:"progress,omitempty"`
}

func (s *Server) view(d model.Download) DownloadView {
	v := DownloadView{Download: d, IsComplete: d.Complete()}
	if p, ok := s.deps.Transfers.Progress(d.ID); ok {
		snap := p.Snapshot(d.ID)
		v.Progress = &snap
	}
	return v
}

type createDownloadRequest struct {
	ID string `json:"id"`
}

type positionRequest struct {
	LastPlayed *float64 `json:"lastPlayed"`
}

// handleListDownloads reconciles before listing so the list reflects the
// documents directory. A failed pass is logged and the list still served.
func (s *Server) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reconciler != nil {
		if _, err := s.deps.Reconciler.Run(r.Context()); err != nil {
			logger := xglog.WithContext(r.Context(), s.logger)
			logger.Warn().Err(err).
				Str(xglog.FieldEvent, "api.reconcile_failed").
				Msg("listing downloads without reconciliation")
		}
	}
	list, err := s.deps.Downloads.List(r.Context())
	if err != nil {
		s.writeError(w, r, "list_downloads", err)
		return
	}
	out := make([]DownloadView, 0, len(list))
	for _, d := range list {
		out = append(out, s.view(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateDownload(w http.ResponseWriter, r *http.Request) {
	var req createDownloadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid_body", "Expected {\"id\": string}.")
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeProblem(w, http.StatusBadRequest, "invalid_argument", "id is required.")
		return
	}
	rec, err := s.lookupRecording(r.Context(), req.ID)
	if err != nil {
		s.writeError(w, r, "create_download", err)
		return
	}
	p, err := s.deps.Transfers.Start(r.Context(), *rec)
	if err != nil {
		s.writeError(w, r, "create_download", err)
		return
	}
	w.Header().Set("Location", "/api/downloads/"+req.ID)
	writeJSON(w, http.StatusAccepted, p.Snapshot(req.ID))
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Downloads.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "get_download", err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(*d))
}

// handleDeleteDownload cancels any transfer and removes file and record.
func (s *Server) handleDeleteDownload(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Transfers.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, "delete_download", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := s.deps.Transfers.Progress(id)
	if !ok {
		writeProblem(w, http.StatusNotFound, "not_found", "No transfer is active for this download.")
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot(id))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Transfers.Cancel(chi.URLParam(r, "id")) {
		writeProblem(w, http.StatusNotFound, "not_found", "No transfer is active for this download.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := decodeJSON(w, r, &req); err != nil || req.LastPlayed == nil {
		writeProblem(w, http.StatusBadRequest, "invalid_body", "Expected {\"lastPlayed\": number}.")
		return
	}
	if math.IsNaN(*req.LastPlayed) || math.IsInf(*req.LastPlayed, 0) {
		writeProblem(w, http.StatusBadRequest, "invalid_argument", "lastPlayed must be a finite number.")
		return
	}
	if err := s.deps.Downloads.SetLastPlayed(r.Context(), chi.URLParam(r, "id"), *req.LastPlayed); err != nil {
		s.writeError(w, r, "set_position", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Reconciler.Run(r.Context())
	if err != nil {
		s.writeError(w, r, "reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
