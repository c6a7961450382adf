// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bitwave-tv/bitwave-media-server/internal/ingestctl"
	"github.com/bitwave-tv/bitwave-media-server/internal/log"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
)

// Result is the body of every operator control response.
type Result struct {
	OK      bool   `json:"ok"`
	User    string `json:"user,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(msg))
}

// statusFor maps control plane errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrAlreadyActive):
		return http.StatusConflict, "already_active"
	case errors.Is(err, model.ErrNotRunning):
		return http.StatusNotFound, "not_running"
	case errors.Is(err, model.ErrInvalidTarget):
		return http.StatusBadRequest, "invalid_target"
	case errors.Is(err, model.ErrProbeFailed),
		errors.Is(err, model.ErrProbeTimeout),
		errors.Is(err, model.ErrBitrateTooHigh):
		return http.StatusUnprocessableEntity, "input_rejected"
	case errors.Is(err, ingestctl.ErrUnavailable), errors.Is(err, ingestctl.ErrEmptyResponse):
		return http.StatusBadGateway, "ingest_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, user string, err error) {
	code, kind := statusFor(err)
	logger := log.WithContext(r.Context(), s.logger)
	ev := logger.Warn()
	if code >= http.StatusInternalServerError {
		ev = logger.Error()
	}
	ev.Err(err).Str(log.FieldUser, user).Str(log.FieldPath, r.URL.Path).Int("status", code).Msg("request failed")
	writeJSON(w, code, Result{User: user, Error: kind, Detail: err.Error()})
}

func badRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, Result{Error: "bad_request", Detail: detail})
}

func unavailable(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusServiceUnavailable, Result{Error: "unavailable", Detail: what + " is not configured"})
}
