// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package archive records live streams to disk and turns finished
// recordings into uploaded, probed mp4 archives.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bitwave-tv/bitwave-media-server/internal/credstore"
	"github.com/bitwave-tv/bitwave-media-server/internal/log"
	"github.com/bitwave-tv/bitwave-media-server/internal/metrics"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/exec/ffmpeg"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/registry"
)

// DefaultTag is used when no tag is given.
const DefaultTag = "archive"

const (
	defaultStartConfirm   = 10 * time.Second
	defaultStopEscalation = 10 * time.Second
	saveTimeout           = 30 * time.Second
)

var errNotConfirmed = errors.New("capture did not start")

// RecordSaver persists finished archives.
type RecordSaver interface {
	SaveArchiveRecord(ctx context.Context, rec credstore.ArchiveRecord) (string, error)
}

// Config configures the capture side of archiving.
type Config struct {
	IngestHost          string
	Dir                 string
	Service             string
	StartConfirmTimeout time.Duration
	StopEscalation      time.Duration
}

// Archiver captures a user's ingest to a raw file and, once the capture
// ends, transmuxes and saves it.
type Archiver struct {
	cfg      Config
	reg      *registry.Registry
	launcher ffmpeg.Launcher
	tm       *Transmuxer
	saver    RecordSaver
	logger   zerolog.Logger

	mu     sync.Mutex
	timers map[registry.Token]*time.Timer

	wg sync.WaitGroup
}

// New creates an archiver. saver may be nil, in which case results are only
// logged.
func New(cfg Config, launcher ffmpeg.Launcher, tm *Transmuxer, saver RecordSaver, logger zerolog.Logger) *Archiver {
	if cfg.StartConfirmTimeout <= 0 {
		cfg.StartConfirmTimeout = defaultStartConfirm
	}
	if cfg.StopEscalation <= 0 {
		cfg.StopEscalation = defaultStopEscalation
	}
	if cfg.Dir == "" {
		cfg.Dir = os.TempDir()
	}
	return &Archiver{
		cfg:      cfg,
		reg:      registry.New(model.KindArchive),
		launcher: launcher,
		tm:       tm,
		saver:    saver,
		logger:   logger.With().Str(log.FieldComponent, "archive").Logger(),
		timers:   make(map[registry.Token]*time.Timer),
	}
}

func archiveID(user, tag string) registry.ID {
	if tag == "" {
		tag = DefaultTag
	}
	return registry.ID{User: user, Tag: tag}
}

// CaptureSpec copies the ingest of user into file.
func CaptureSpec(host, user, file string) ffmpeg.Spec {
	return ffmpeg.Spec{
		Input: ffmpeg.InputSpec{
			URL:     fmt.Sprintf("rtmp://%s/live/%s", host, user),
			Options: []string{"-err_detect", "ignore_err"},
		},
		Outputs: []ffmpeg.OutputSpec{{
			Target:  file,
			Options: []string{"-c", "copy", "-f", "flv"},
		}},
	}
}

// StartArchive begins capturing user's stream and returns the raw file path
// once the capture process is confirmed running.
func (a *Archiver) StartArchive(ctx context.Context, user, tag string) (string, error) {
	id := archiveID(user, tag)
	logger := log.WithContext(ctx, a.logger.With().Str(log.FieldUser, user).Str(log.FieldTag, id.Tag).Logger())

	tok, err := a.reg.Reserve(id)
	if err != nil {
		metrics.IncPipelineStart(string(model.KindArchive), "conflict")
		return "", err
	}

	if err := os.MkdirAll(a.cfg.Dir, 0o750); err != nil {
		a.reg.Remove(tok, model.StateFailed)
		metrics.IncPipelineStart(string(model.KindArchive), "rejected")
		return "", fmt.Errorf("archive dir: %w", err)
	}
	file := filepath.Join(a.cfg.Dir, fmt.Sprintf("%s-%s-%d.flv", user, id.Tag, time.Now().Unix()))

	h, err := a.launcher.Launch(ctx, "archive/"+id.Key(), CaptureSpec(a.cfg.IngestHost, user, file))
	if err != nil {
		a.reg.Remove(tok, model.StateFailed)
		metrics.IncPipelineStart(string(model.KindArchive), "spawn_error")
		logger.Error().Err(err).Msg("archive capture spawn failed")
		if !errors.Is(err, model.ErrSpawnFailure) && !errors.Is(err, model.ErrInvalidTarget) {
			err = fmt.Errorf("%w: %w", model.ErrSpawnFailure, err)
		}
		return "", err
	}
	a.reg.Attach(tok, h, file)
	metrics.IncPipelineStart(string(model.KindArchive), "success")

	confirmed := make(chan struct{})
	a.wg.Add(1)
	go a.watch(context.WithoutCancel(ctx), tok, id, h, file, confirmed)

	timer := time.NewTimer(a.cfg.StartConfirmTimeout)
	defer timer.Stop()
	select {
	case <-confirmed:
		logger.Info().Str(log.FieldPath, file).Msg("archive capture started")
		return file, nil
	case <-h.Done():
		return "", fmt.Errorf("%w: capture exited before confirming", model.ErrSpawnFailure)
	case <-timer.C:
		a.terminate(tok, h)
		return "", fmt.Errorf("%w: %w after %s", model.ErrSpawnFailure, errNotConfirmed, a.cfg.StartConfirmTimeout)
	case <-ctx.Done():
		a.terminate(tok, h)
		return "", ctx.Err()
	}
}

func (a *Archiver) watch(ctx context.Context, tok registry.Token, id registry.ID, h *ffmpeg.Handle, file string, confirmed chan struct{}) {
	defer a.wg.Done()
	logger := a.logger.With().Str(log.FieldUser, id.User).Str(log.FieldTag, id.Tag).Logger()

	for ev := range h.Events() {
		switch ev.Type {
		case ffmpeg.EventStarted:
			if _, ok := a.reg.Activate(tok); ok {
				close(confirmed)
			}
		case ffmpeg.EventProgress:
			a.reg.UpdateStats(tok, ev.Stats)
		case ffmpeg.EventEnded, ffmpeg.EventFailed:
			final, reason := model.StateStopped, "ended"
			if ev.Type == ffmpeg.EventFailed {
				if ev.Cause == model.CauseKilled {
					reason = "killed"
				} else {
					final, reason = model.StateFailed, string(ev.Cause)
				}
			}
			if _, ok := a.reg.Remove(tok, final); ok {
				metrics.IncPipelineExit(string(model.KindArchive), reason)
			}
			a.mu.Lock()
			if t := a.timers[tok]; t != nil {
				t.Stop()
			}
			delete(a.timers, tok)
			a.mu.Unlock()

			if final == model.StateFailed {
				logger.Warn().Err(ev.Err).Strs("stderr", ev.Diagnostics).Msg("archive capture failed")
			} else {
				logger.Info().Str("reason", reason).Msg("archive capture ended")
			}
			a.complete(ctx, logger, id, file)
		}
	}
}

// complete transmuxes a capture that produced data and saves the record.
func (a *Archiver) complete(ctx context.Context, logger zerolog.Logger, id registry.ID, file string) {
	st, err := os.Stat(file)
	if err != nil || st.Size() == 0 {
		logger.Warn().Str(log.FieldPath, file).Msg("capture produced no data; nothing to archive")
		_ = os.Remove(file)
		return
	}

	res := Result{Type: TypeRaw, File: file, Location: file, Channel: id.User, Thumbnails: []string{}}
	if a.tm != nil {
		res = a.tm.Transmux(ctx, file, id.User)
	}
	if res.Location == "" {
		res.Location = res.File
	}
	if res.Service == "" {
		res.Service = a.cfg.Service
	}

	rec := credstore.ArchiveRecord{
		User:            id.User,
		Key:             res.Key,
		Location:        res.Location,
		Type:            FileType(res.Type),
		DurationSeconds: res.DurationSeconds,
		SizeBytes:       res.SizeBytes,
		Thumbnails:      res.Thumbnails,
		Service:         res.Service,
		MediaInfo:       res.MediaInfo,
		CreatedAt:       time.Now(),
	}
	if res.UploadErr != nil {
		rec.UploadError = res.UploadErr.Error()
	}
	if rec.Thumbnails == nil {
		rec.Thumbnails = []string{}
	}

	if a.saver == nil {
		logger.Info().Str("location", rec.Location).Str("type", rec.Type).Msg("archive complete")
		return
	}
	sctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	recID, err := a.saver.SaveArchiveRecord(sctx, rec)
	if err != nil {
		logger.Error().Err(err).Str("location", rec.Location).Msg("failed to save archive record")
		return
	}
	logger.Info().Str(log.FieldExternalID, recID).Str("location", rec.Location).Str("type", rec.Type).Msg("archive saved")
}

// StopArchive ends the capture. The recording is still transmuxed.
func (a *Archiver) StopArchive(ctx context.Context, user, tag string) (bool, error) {
	id := archiveID(user, tag)
	h, tok, _, err := a.reg.MarkStopping(id)
	if err != nil {
		return false, err
	}
	logger := log.WithContext(ctx, a.logger)
	logger.Info().Str(log.FieldUser, user).Str(log.FieldTag, id.Tag).Msg("stopping archive capture")
	if h != nil {
		a.terminate(tok, h)
	}
	return true, nil
}

func (a *Archiver) terminate(tok registry.Token, h *ffmpeg.Handle) {
	a.mu.Lock()
	if _, ok := a.timers[tok]; !ok {
		a.timers[tok] = time.AfterFunc(a.cfg.StopEscalation, func() { a.escalate(tok) })
	}
	a.mu.Unlock()
	h.Terminate()
}

func (a *Archiver) escalate(tok registry.Token) {
	view, ok := a.reg.Remove(tok, model.StateFailed)
	if !ok {
		return
	}
	a.mu.Lock()
	delete(a.timers, tok)
	a.mu.Unlock()
	metrics.IncPipelineLeak(string(model.KindArchive))
	metrics.IncPipelineExit(string(model.KindArchive), "escalated")
	a.logger.Warn().Str(log.FieldUser, view.User).Str(log.FieldTag, view.Tag).
		Dur("after", a.cfg.StopEscalation).
		Msg("archive capture did not exit after stop; force-removed record, process may be leaked")
}

// Get returns a snapshot of one capture.
func (a *Archiver) Get(user, tag string) (model.RecordView, bool) {
	return a.reg.Get(archiveID(user, tag))
}

// List returns snapshots of every running capture.
func (a *Archiver) List() []model.RecordView { return a.reg.List() }

// Shutdown stops every capture and waits for pending transmuxes.
func (a *Archiver) Shutdown(ctx context.Context) error {
	for _, id := range a.reg.IDs() {
		if _, err := a.StopArchive(ctx, id.User, id.Tag); err != nil && !errors.Is(err, model.ErrNotRunning) {
			a.logger.Warn().Err(err).Str(log.FieldUser, id.User).Msg("stop during shutdown failed")
		}
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("archive: %w", ctx.Err())
	}
}
