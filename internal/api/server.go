// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the ingest callbacks and the operator controls over
// HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bitwave-tv/bitwave-media-server/internal/api/middleware"
	"github.com/bitwave-tv/bitwave-media-server/internal/credstore"
	"github.com/bitwave-tv/bitwave-media-server/internal/health"
	"github.com/bitwave-tv/bitwave-media-server/internal/ingest"
	"github.com/bitwave-tv/bitwave-media-server/internal/log"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
	"github.com/bitwave-tv/bitwave-media-server/internal/streams"
)

// Gateway handles the ingest publish callbacks.
type Gateway interface {
	Authorize(ctx context.Context, app, name, key string) (ingest.Decision, error)
	End(ctx context.Context, app, name string) error
	Transcoded(user string)
}

// Lister lists pipeline records.
type Lister interface {
	List() []model.RecordView
}

// Transcoder controls the transcode ladder.
type Transcoder interface {
	Lister
	Start(ctx context.Context, user string, enable144, enable480 bool) (bool, error)
	Stop(ctx context.Context, user string) (bool, error)
}

// Restreamer controls third-party pushes.
type Restreamer interface {
	Lister
	Start(ctx context.Context, user, server, key string) (bool, error)
	Stop(ctx context.Context, user string) (bool, error)
}

// Archiver controls native archive captures.
type Archiver interface {
	Lister
	StartArchive(ctx context.Context, user, tag string) (string, error)
	StopArchive(ctx context.Context, user, tag string) (bool, error)
}

// Recorder controls recordings made by the ingest server itself.
type Recorder interface {
	RecordStart(ctx context.Context, user, rec string) (string, error)
	RecordStop(ctx context.Context, user, rec string) (string, error)
}

// RecordSaver persists legacy recordings.
type RecordSaver interface {
	SaveArchiveRecord(ctx context.Context, rec credstore.ArchiveRecord) (string, error)
}

// Streams is the live streamer registry.
type Streams interface {
	List() []string
	Data(user string) (streams.Data, bool)
	Update(ctx context.Context, user string) bool
}

// Deps are the collaborators of the server. Nil collaborators disable
// their routes with 503.
type Deps struct {
	Gateway    Gateway
	Relay      Lister
	Transcoder Transcoder
	Restreamer Restreamer
	Archiver   Archiver
	Recorder   Recorder
	Records    RecordSaver
	Streams    Streams
	Health     *health.Manager
}

// Config tunes the HTTP surface.
type Config struct {
	// OperatorRPM limits operator routes per client IP. Zero disables it.
	OperatorRPM int
	// Service labels legacy archive records.
	Service string
}

// Server routes HTTP requests to the control plane.
type Server struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger
}

// New creates a server.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	if deps.Health == nil {
		deps.Health = health.NewManager("")
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With().Str(log.FieldComponent, "api").Logger(),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{EnableMetrics: true, EnableLogging: true})

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	// Ingest callbacks come from the RTMP server and are not rate limited.
	r.Post("/stream/authorize", s.handleAuthorize)
	r.Post("/stream/end", s.handleEnd)
	r.Post("/stream/transcode", s.handleTranscoded)

	r.Group(func(r chi.Router) {
		r.Use(middleware.OperatorRateLimit(s.cfg.OperatorRPM))

		r.Post("/stream/transcode/start", s.handleTranscodeStart)
		r.Post("/stream/transcode/stop", s.handleTranscodeStop)
		r.Post("/stream/restream/start", s.handleRestreamStart)
		r.Post("/stream/restream/stop", s.handleRestreamStop)
		r.Post("/stream/archive/start", s.handleArchiveStart)
		r.Post("/stream/archive/stop", s.handleArchiveStop)
		r.Post("/stream/record/start", s.handleRecordStart)
		r.Post("/stream/record/stop", s.handleRecordStop)

		r.Get("/stream/stats", s.handleStats)
		r.Get("/stream/stats/{user}", s.handleUserStats)

		r.Get("/streamers", s.handleStreamers)
		r.Get("/streamers/{user}", s.handleStreamer)
		r.Post("/streamers/{user}/probe", s.handleProbe)
	})
	return r
}
