// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/harekaze/internal/catalog"
	"github.com/ManuGH/harekaze/internal/chinachu"
	"github.com/ManuGH/harekaze/internal/downloads"
	xglog "github.com/ManuGH/harekaze/internal/log"
	"github.com/ManuGH/harekaze/internal/transfer"
)

// Problem is the error body of every failed request.
type Problem struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, code int, kind, message string) {
	writeJSON(w, code, Problem{Error: kind, Message: message})
}

// classify maps an error to status, code and user-facing message.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, transfer.ErrAlreadyDownloaded):
		return http.StatusConflict, "already_downloaded", "The recording has already been downloaded."
	case errors.Is(err, transfer.ErrInProgress):
		return http.StatusConflict, "in_progress", "The recording is already being downloaded."
	case errors.Is(err, transfer.ErrShutdown):
		return http.StatusServiceUnavailable, "shutting_down", "The service is shutting down."
	case errors.Is(err, downloads.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "not_found", "The requested item does not exist."
	case errors.Is(err, chinachu.ErrNotFound):
		return http.StatusNotFound, "not_found", chinachu.Message(err)
	case errors.Is(err, chinachu.ErrConnection):
		return http.StatusBadGateway, "upstream_unavailable", chinachu.Message(err)
	case errors.Is(err, chinachu.ErrUnauthorized), errors.Is(err, chinachu.ErrResponse):
		return http.StatusBadGateway, "upstream_error", chinachu.Message(err)
	case errors.Is(err, chinachu.ErrRequest):
		return http.StatusInternalServerError, "bad_upstream_request", chinachu.Message(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled", chinachu.Message(err)
	default:
		return http.StatusInternalServerError, "internal", "An unexpected error occurred."
	}
}

// writeError logs server-side failures and renders the Problem body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	code, kind, msg := classify(err)
	if code >= http.StatusInternalServerError || code == http.StatusBadGateway {
		logger := xglog.WithContext(r.Context(), s.logger)
		logger.Warn().
			Err(err).
			Str(xglog.FieldEvent, "api.error").
			Str(xglog.FieldOperation, op).
			Int("status", code).
			Msg("request failed")
	}
	writeProblem(w, code, kind, msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
