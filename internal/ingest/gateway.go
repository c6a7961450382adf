// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ingest decides whether an RTMP publish may proceed and drives the
// per-streamer side effects of going live and going offline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bitwave-tv/bitwave-media-server/internal/log"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
	"github.com/bitwave-tv/bitwave-media-server/internal/retry"
)

// LiveApp is the only application that requires a stream key.
const LiveApp = "live"

// ArchiveTag is the tag used for automatic archives.
const ArchiveTag = "archive"

var (
	// ErrMissingApp means the publish named no application.
	ErrMissingApp = errors.New("ingest: missing app")
	// ErrMissingCredentials means a live publish came without name or key.
	ErrMissingCredentials = errors.New("ingest: missing name or key")
)

// Archive modes.
const (
	ArchiveNative = "native"
	ArchiveLegacy = "legacy"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonAuthorized     Reason = "authorized"
	ReasonNoAuthRequired Reason = "no_auth_required"
	ReasonDenied         Reason = "denied"
	ReasonAlreadyActive  Reason = "already_active"
	ReasonRelayFailed    Reason = "relay_failed"
)

// Decision is the outcome of an authorization request.
type Decision struct {
	Allowed bool
	Reason  Reason
	Err     error
}

// Credentials is the credential and status collaborator.
type Credentials interface {
	CheckStreamKey(ctx context.Context, user, key string) (bool, error)
	CheckArchiveEnabled(ctx context.Context, user string) (bool, error)
	SetLiveStatus(ctx context.Context, user string, live bool) error
	SetTranscodeStatus(ctx context.Context, user string, transcoded bool, variant string) error
}

// Relay is the HLS relay supervisor.
type Relay interface {
	Start(ctx context.Context, user string) (bool, error)
	Stop(ctx context.Context, user string) (bool, error)
	IsActive(user string) bool
}

// Streams tracks live streamers.
type Streams interface {
	AddStreamer(ctx context.Context, user string)
	RemoveStreamer(user string) bool
}

// Archiver records streams natively.
type Archiver interface {
	StartArchive(ctx context.Context, user, tag string) (string, error)
	StopArchive(ctx context.Context, user, tag string) (bool, error)
}

// Recorder starts nginx-side recordings in legacy mode.
type Recorder interface {
	RecordStart(ctx context.Context, user, rec string) (string, error)
}

// Stopper is any per-user pipeline that must end with the stream.
type Stopper interface {
	Stop(ctx context.Context, user string) (bool, error)
}

// Deps are the collaborators of a Gateway. Only Store is required.
type Deps struct {
	Store    Credentials
	Relay    Relay
	Streams  Streams
	Archiver Archiver
	Recorder Recorder
	Stoppers []Stopper
}

// Config tunes the deferred work after a publish is authorized.
type Config struct {
	LiveStatusDelay   time.Duration
	ArchiveMode       string
	ArchiveRetries    int
	ArchiveRetryDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.LiveStatusDelay <= 0 {
		c.LiveStatusDelay = 10 * time.Second
	}
	if c.ArchiveMode == "" {
		c.ArchiveMode = ArchiveNative
	}
	if c.ArchiveRetries < 0 {
		c.ArchiveRetries = 0
	}
	if c.ArchiveRetryDelay <= 0 {
		c.ArchiveRetryDelay = 10 * time.Second
	}
}

type pending struct {
	timer  *time.Timer
	cancel context.CancelFunc
}

// Gateway authorizes publishes and owns the deferred go-live timers.
type Gateway struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	base     context.Context
	shutdown context.CancelFunc

	mu      sync.Mutex
	pending map[string]*pending
	wg      sync.WaitGroup
}

// NewGateway creates a gateway.
func NewGateway(cfg Config, deps Deps, logger zerolog.Logger) *Gateway {
	cfg.applyDefaults()
	base, cancel := context.WithCancel(context.Background())
	return &Gateway{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With().Str(log.FieldComponent, "ingest").Logger(),
		base:     base,
		shutdown: cancel,
		pending:  make(map[string]*pending),
	}
}

func key(user string) string { return strings.ToLower(user) }

// Authorize verifies the stream key, checks that the user has no relay yet
// and launches one. On success the live flag and archive start are
// scheduled after LiveStatusDelay.
func (g *Gateway) Authorize(ctx context.Context, app, name, streamKey string) (Decision, error) {
	if app == "" {
		return Decision{}, ErrMissingApp
	}
	if app != LiveApp {
		return Decision{Allowed: true, Reason: ReasonNoAuthRequired}, nil
	}
	if name == "" || streamKey == "" {
		return Decision{}, ErrMissingCredentials
	}
	logger := log.WithContext(ctx, g.logger.With().Str(log.FieldUser, name).Str("app", app).Logger())

	ok, err := g.deps.Store.CheckStreamKey(ctx, name, streamKey)
	if err != nil {
		return Decision{}, fmt.Errorf("check stream key: %w", err)
	}
	if !ok {
		logger.Info().Msg("publish denied")
		return Decision{Reason: ReasonDenied}, nil
	}

	if g.deps.Relay != nil {
		if g.deps.Relay.IsActive(name) {
			logger.Warn().Msg("publish denied: relay already active")
			return Decision{Reason: ReasonAlreadyActive, Err: model.ErrAlreadyActive}, nil
		}
		if _, err := g.deps.Relay.Start(ctx, name); err != nil {
			if errors.Is(err, model.ErrAlreadyActive) {
				return Decision{Reason: ReasonAlreadyActive, Err: err}, nil
			}
			logger.Warn().Err(err).Msg("publish denied: relay did not start")
			return Decision{Reason: ReasonRelayFailed, Err: err}, nil
		}
	}

	archive, err := g.deps.Store.CheckArchiveEnabled(ctx, name)
	if err != nil {
		logger.Warn().Err(err).Msg("archive check failed; not archiving")
		archive = false
	}

	g.schedule(name, archive)
	logger.Info().Bool("archive", archive).Msg("publish authorized")
	return Decision{Allowed: true, Reason: ReasonAuthorized}, nil
}

func (g *Gateway) schedule(user string, archive bool) {
	ctx, cancel := context.WithCancel(g.base)
	p := &pending{cancel: cancel}

	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.pending[key(user)]; ok {
		if old.timer.Stop() {
			g.wg.Done()
		}
		old.cancel()
	}
	g.wg.Add(1)
	p.timer = time.AfterFunc(g.cfg.LiveStatusDelay, func() {
		defer g.wg.Done()
		defer g.clear(user, p)
		g.goLive(ctx, user, archive)
	})
	g.pending[key(user)] = p
}

func (g *Gateway) clear(user string, p *pending) {
	g.mu.Lock()
	if g.pending[key(user)] == p {
		delete(g.pending, key(user))
	}
	g.mu.Unlock()
	p.cancel()
}

// cancelPending stops a scheduled go-live for user. A go-live that already
// began sees its context cancelled.
func (g *Gateway) cancelPending(user string) bool {
	g.mu.Lock()
	p, ok := g.pending[key(user)]
	delete(g.pending, key(user))
	g.mu.Unlock()
	if !ok {
		return false
	}
	if p.timer.Stop() {
		g.wg.Done()
	}
	p.cancel()
	return true
}

func (g *Gateway) goLive(ctx context.Context, user string, archive bool) {
	logger := g.logger.With().Str(log.FieldUser, user).Logger()
	if ctx.Err() != nil {
		return
	}

	if err := g.deps.Store.SetLiveStatus(ctx, user, true); err != nil {
		logger.Error().Err(err).Msg("failed to set live status")
	} else {
		logger.Info().Msg("streamer is live")
	}
	if g.deps.Streams != nil {
		g.deps.Streams.AddStreamer(ctx, user)
	}

	if !archive {
		logger.Info().Msg("archiving is disabled")
		return
	}

	policy := retry.Policy{
		Op:         "archive_start",
		MaxRetries: g.cfg.ArchiveRetries,
		Delay:      g.cfg.ArchiveRetryDelay,
		Logger:     logger,
	}
	path, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) (string, error) {
		return g.startArchive(ctx, user)
	})
	if err != nil {
		// The stream stays live without an archive.
		logger.Error().Err(err).Msg("archive not started")
		return
	}
	logger.Info().Str(log.FieldPath, path).Msg("archiving stream")
}

func (g *Gateway) startArchive(ctx context.Context, user string) (string, error) {
	switch {
	case g.cfg.ArchiveMode == ArchiveLegacy && g.deps.Recorder != nil:
		return g.deps.Recorder.RecordStart(ctx, user, ArchiveTag)
	case g.deps.Archiver != nil:
		path, err := g.deps.Archiver.StartArchive(ctx, user, ArchiveTag)
		if errors.Is(err, model.ErrAlreadyActive) {
			return "(already recording)", nil
		}
		return path, err
	default:
		return "", errors.New("no archiver configured")
	}
}

// End handles a publisher disconnect. It cancels the pending go-live,
// marks the user offline and stops every pipeline that reads the ingest.
func (g *Gateway) End(ctx context.Context, app, name string) error {
	if app != LiveApp || name == "" {
		return nil
	}
	logger := log.WithContext(ctx, g.logger.With().Str(log.FieldUser, name).Logger())
	g.cancelPending(name)

	var errs []error
	if err := g.deps.Store.SetLiveStatus(ctx, name, false); err != nil {
		errs = append(errs, fmt.Errorf("set live status: %w", err))
	}
	if g.deps.Streams != nil {
		g.deps.Streams.RemoveStreamer(name)
	}

	stop := func(what string, fn func() (bool, error)) {
		if _, err := fn(); err != nil && !errors.Is(err, model.ErrNotRunning) {
			errs = append(errs, fmt.Errorf("stop %s: %w", what, err))
		}
	}
	if g.deps.Relay != nil {
		stop("relay", func() (bool, error) { return g.deps.Relay.Stop(ctx, name) })
	}
	if g.deps.Archiver != nil && g.cfg.ArchiveMode == ArchiveNative {
		stop("archive", func() (bool, error) { return g.deps.Archiver.StopArchive(ctx, name, ArchiveTag) })
	}
	for i, s := range g.deps.Stoppers {
		stop(fmt.Sprintf("pipeline %d", i), func() (bool, error) { return s.Stop(ctx, name) })
	}

	err := errors.Join(errs...)
	if err != nil {
		logger.Warn().Err(err).Msg("streamer went offline with errors")
	} else {
		logger.Info().Msg("streamer went offline")
	}
	return err
}

// Transcoded marks user as transcoded after LiveStatusDelay. It serves
// transcoders that run outside this process.
func (g *Gateway) Transcoded(user string) {
	if user == "" {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		t := time.NewTimer(g.cfg.LiveStatusDelay)
		defer t.Stop()
		select {
		case <-g.base.Done():
			return
		case <-t.C:
		}
		if err := g.deps.Store.SetTranscodeStatus(g.base, user, true, ""); err != nil {
			g.logger.Error().Err(err).Str(log.FieldUser, user).Msg("failed to set transcode status")
			return
		}
		g.logger.Info().Str(log.FieldUser, user).Msg("streamer is now transcoded")
	}()
}

// Pending reports whether a go-live is scheduled for user.
func (g *Gateway) Pending(user string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[key(user)]
	return ok
}

// Close cancels every scheduled go-live and waits for running ones.
func (g *Gateway) Close(ctx context.Context) error {
	g.shutdown()
	g.mu.Lock()
	for k, p := range g.pending {
		if p.timer.Stop() {
			g.wg.Done()
		}
		p.cancel()
		delete(g.pending, k)
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ingest: %w", ctx.Err())
	}
}
