// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bitwave-tv/bitwave-media-server/internal/ingest"
	"github.com/bitwave-tv/bitwave-media-server/internal/log"
)

// handleAuthorize answers the on_publish callback. Any non-2xx status makes
// the ingest server drop the publisher.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gateway == nil {
		unavailable(w, "gateway")
		return
	}
	p, err := readParams(w, r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	app, name := p.str("app"), p.str("name")
	ctx := log.ContextWithUser(r.Context(), name)

	d, err := s.deps.Gateway.Authorize(ctx, app, name, p.str("key"))
	switch {
	case errors.Is(err, ingest.ErrMissingApp):
		writeText(w, http.StatusNotFound, "missing app")
	case errors.Is(err, ingest.ErrMissingCredentials):
		writeText(w, http.StatusInternalServerError, "missing name or key")
	case err != nil:
		logger := log.WithContext(ctx, s.logger)
		logger.Error().Err(err).Msg("authorization failed")
		writeText(w, http.StatusInternalServerError, fmt.Sprintf("%s could not be authorized.", name))
	case d.Reason == ingest.ReasonNoAuthRequired:
		writeText(w, http.StatusOK, fmt.Sprintf("[%s] Auth not required", app))
	case d.Allowed:
		writeText(w, http.StatusOK, fmt.Sprintf("%s authorized.", name))
	default:
		writeText(w, http.StatusForbidden, fmt.Sprintf("%s denied (%s).", name, d.Reason))
	}
}

// handleEnd answers the on_publish_done callback.
func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gateway == nil {
		unavailable(w, "gateway")
		return
	}
	p, err := readParams(w, r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	app, name := p.str("app"), p.str("name")
	if app != ingest.LiveApp {
		writeText(w, http.StatusOK, fmt.Sprintf("[%s] ignored", app))
		return
	}
	ctx := log.ContextWithUser(r.Context(), name)
	if err := s.deps.Gateway.End(ctx, app, name); err != nil {
		writeText(w, http.StatusInternalServerError, fmt.Sprintf("[%s] %s went offline with errors: %v", app, name, err))
		return
	}
	writeText(w, http.StatusCreated, fmt.Sprintf("[%s] %s is now OFFLINE", app, name))
}

// handleTranscoded is called by an external transcoder once its output
// is published.
func (s *Server) handleTranscoded(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gateway == nil {
		unavailable(w, "gateway")
		return
	}
	p, err := readParams(w, r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	user := p.str("user")
	s.deps.Gateway.Transcoded(user)
	writeText(w, http.StatusOK, fmt.Sprintf("[%s|%s] is transcoding %s.", p.str("app"), p.str("name"), user))
}
