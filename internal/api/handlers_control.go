// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/bitwave-tv/bitwave-media-server/internal/archive"
	"github.com/bitwave-tv/bitwave-media-server/internal/credstore"
	"github.com/bitwave-tv/bitwave-media-server/internal/log"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
	"github.com/bitwave-tv/bitwave-media-server/internal/validate"
)

// controlRequest reads the body and the target user of an operator route.
func (s *Server) controlRequest(w http.ResponseWriter, r *http.Request) (params, string, bool) {
	p, err := readParams(w, r)
	if err != nil {
		badRequest(w, err.Error())
		return nil, "", false
	}
	user := p.user()
	if user == "" {
		badRequest(w, "user is required")
		return nil, "", false
	}
	v := validate.New()
	v.Name("user", user)
	if t := p.str("tag"); t != "" {
		v.Name("tag", t)
	}
	if err := v.Err(); err != nil {
		s.writeError(w, r, user, fmt.Errorf("%w: %w", model.ErrInvalidTarget, err))
		return nil, "", false
	}
	return p, user, true
}

func (s *Server) handleTranscodeStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Transcoder == nil {
		unavailable(w, "transcoder")
		return
	}
	p, user, ok := s.controlRequest(w, r)
	if !ok {
		return
	}
	ctx := log.ContextWithUser(r.Context(), user)
	started, err := s.deps.Transcoder.Start(ctx, user, p.boolOr("rung144", true), p.boolOr("rung480", true))
	if err != nil {
		s.writeError(w, r, user, err)
		return
	}
	if !started {
		badRequest(w, "no transcode rung enabled")
		return
	}
	writeJSON(w, http.StatusOK, Result{OK: true, User: user, Message: user + " is now being transcoded."})
}

func (s *Server) handleTranscodeStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Transcoder == nil {
		unavailable(w, "transcoder")
		return
	}
	_, user, ok := s.controlRequest(w, r)
	if !ok {
		return
	}
	if _, err := s.deps.Transcoder.Stop(log.ContextWithUser(r.Context(), user), user); err != nil {
		s.writeError(w, r, user, err)
		return
	}
	writeJSON(w, http.StatusOK, Result{OK: true, User: user, Message: user + " is no longer being transcoded."})
}

func (s *Server) handleRestreamStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Restreamer == nil {
		unavailable(w, "restreamer")
		return
	}
	p, user, ok := s.controlRequest(w, r)
	if !ok {
		return
	}
	server := p.str("server")
	if _, err := s.deps.Restreamer.Start(log.ContextWithUser(r.Context(), user), user, server, p.str("key")); err != nil {
		s.writeError(w, r, user, err)
		return
	}
	writeJSON(w, http.StatusOK, Result{OK: true, User: user, Message: fmt.Sprintf("%s is now restreaming to %s.", user, server)})
}

func (s *Server) handleRestreamStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Restreamer == nil {
		unavailable(w, "restreamer")
		return
	}
	_, user, ok := s.controlRequest(w, r)
	if !ok {
		return
	}
	if _, err := s.deps.Restreamer.Stop(log.ContextWithUser(r.Context(), user), user); err != nil {
		s.writeError(w, r, user, err)
		return
	}
	writeJSON(w, http.StatusOK, Result{OK: true, User: user, Message: user + " is no longer restreaming."})
}

func archiveTag(p params) string {
	if t := p.str("tag"); t != "" {
		return t
	}
	return archive.DefaultTag
}

func (s *Server) handleArchiveStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archiver == nil {
		unavailable(w, "archiver")
		return
	}
	p, user, ok := s.controlRequest(w, r)
	if !ok {
		return
	}
	file, err := s.deps.Archiver.StartArchive(log.ContextWithUser(r.Context(), user), user, archiveTag(p))
	if err != nil {
		s.writeError(w, r, user, err)
		return
	}
	writeJSON(w, http.StatusOK, Result{OK: true, User: user, Message: file})
}

func (s *Server) handleArchiveStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archiver == nil {
		unavailable(w, "archiver")
		return
	}
	p, user, ok := s.controlRequest(w, r)
	if !ok {
		return
	}
	if _, err := s.deps.Archiver.StopArchive(log.ContextWithUser(r.Context(), user), user, archiveTag(p)); err != nil {
		s.writeError(w, r, user, err)
		return
	}
	writeJSON(w, http.StatusOK, Result{OK: true, User: user, Message: "archive stopping"})
}

// handleRecordStart asks the ingest server to record and stores the path it
// reports.
func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recorder == nil {
		unavailable(w, "recorder")
		return
	}
	_, user, ok := s.controlRequest(w, r)
	if !ok {
		return
	}
	ctx := log.ContextWithUser(r.Context(), user)
	path, err := s.deps.Recorder.RecordStart(ctx, user, archive.DefaultTag)
	if err != nil {
		s.writeError(w, r, user, err)
		return
	}
	logger := log.WithContext(ctx, s.logger)
	logger.Info().Str(log.FieldPath, path).Msg("archiving via ingest server")

	if s.deps.Records != nil {
		rec := credstore.ArchiveRecord{
			User:      user,
			Key:       filepath.Base(path),
			Location:  path,
			Type:      archive.FileType(archive.TypeRaw),
			Service:   s.cfg.Service,
			CreatedAt: time.Now().UTC(),
		}
		if _, err := s.deps.Records.SaveArchiveRecord(ctx, rec); err != nil {
			logger.Warn().Err(err).Msg("failed to save recording record")
		}
	}
	writeJSON(w, http.StatusOK, Result{OK: true, User: user, Message: path})
}

func (s *Server) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recorder == nil {
		unavailable(w, "recorder")
		return
	}
	_, user, ok := s.controlRequest(w, r)
	if !ok {
		return
	}
	path, err := s.deps.Recorder.RecordStop(log.ContextWithUser(r.Context(), user), user, archive.DefaultTag)
	if err != nil {
		s.writeError(w, r, user, err)
		return
	}
	writeJSON(w, http.StatusOK, Result{OK: true, User: user, Message: path})
}
