// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bitwave-tv/bitwave-media-server/internal/log"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
)

// records returns every pipeline record, optionally of one kind, ordered
// by user then kind.
func (s *Server) records(kind string) []model.RecordView {
	sources := map[model.Kind]Lister{}
	if s.deps.Relay != nil {
		sources[model.KindRelay] = s.deps.Relay
	}
	if s.deps.Transcoder != nil {
		sources[model.KindTranscode] = s.deps.Transcoder
	}
	if s.deps.Restreamer != nil {
		sources[model.KindRestream] = s.deps.Restreamer
	}
	if s.deps.Archiver != nil {
		sources[model.KindArchive] = s.deps.Archiver
	}

	out := []model.RecordView{}
	for k, l := range sources {
		if kind != "" && string(k) != kind {
			continue
		}
		out = append(out, l.List()...)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i].User), strings.ToLower(out[j].User)
		if a != b {
			return a < b
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.records(r.URL.Query().Get("kind")))
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	out := []model.RecordView{}
	for _, v := range s.records(r.URL.Query().Get("kind")) {
		if strings.EqualFold(v.User, user) {
			out = append(out, v)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStreamers(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Streams == nil {
		unavailable(w, "stream registry")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"streamers": s.deps.Streams.List()})
}

func (s *Server) handleStreamer(w http.ResponseWriter, r *http.Request) {
	if s.deps.Streams == nil {
		unavailable(w, "stream registry")
		return
	}
	user := chi.URLParam(r, "user")
	data, ok := s.deps.Streams.Data(user)
	if !ok {
		writeJSON(w, http.StatusNotFound, Result{User: user, Error: "not_live"})
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// handleProbe re-probes a live streamer and returns the fresh data.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if s.deps.Streams == nil {
		unavailable(w, "stream registry")
		return
	}
	user := chi.URLParam(r, "user")
	if _, ok := s.deps.Streams.Data(user); !ok {
		writeJSON(w, http.StatusNotFound, Result{User: user, Error: "not_live"})
		return
	}
	if !s.deps.Streams.Update(log.ContextWithUser(r.Context(), user), user) {
		writeJSON(w, http.StatusBadGateway, Result{User: user, Error: "probe_failed"})
		return
	}
	data, ok := s.deps.Streams.Data(user)
	if !ok {
		writeJSON(w, http.StatusNotFound, Result{User: user, Error: "not_live"})
		return
	}
	writeJSON(w, http.StatusOK, data)
}
