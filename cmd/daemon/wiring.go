// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bitwave-tv/bitwave-media-server/internal/api"
	"github.com/bitwave-tv/bitwave-media-server/internal/archive"
	"github.com/bitwave-tv/bitwave-media-server/internal/config"
	"github.com/bitwave-tv/bitwave-media-server/internal/credstore"
	"github.com/bitwave-tv/bitwave-media-server/internal/daemon"
	"github.com/bitwave-tv/bitwave-media-server/internal/health"
	"github.com/bitwave-tv/bitwave-media-server/internal/ingest"
	"github.com/bitwave-tv/bitwave-media-server/internal/ingestctl"
	"github.com/bitwave-tv/bitwave-media-server/internal/log"
	"github.com/bitwave-tv/bitwave-media-server/internal/media/probe"
	"github.com/bitwave-tv/bitwave-media-server/internal/notify"
	"github.com/bitwave-tv/bitwave-media-server/internal/objectstore"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/exec/ffmpeg"
	"github.com/bitwave-tv/bitwave-media-server/internal/streams"
	"github.com/bitwave-tv/bitwave-media-server/internal/supervisor"
)

type hook struct {
	name string
	fn   daemon.ShutdownHook
}

// service is the wired control plane. Hooks run in reverse order on
// shutdown, so collaborators registered first are released last.
type service struct {
	handler http.Handler
	health  *health.Manager
	gateway *ingest.Gateway
	hooks   []hook
}

func (s *service) onShutdown(name string, fn daemon.ShutdownHook) {
	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

func buildStore(ctx context.Context, cfg config.Config, svc *service) (credstore.Store, error) {
	urls := credstore.URLs{CDNHost: cfg.CDNHost}
	if cfg.Redis.Addr == "" {
		logger := log.WithComponent("credstore")
		logger.Warn().Msg("no redis configured; using the in-memory credential store")
		return credstore.NewMemoryStore(urls), nil
	}
	rs, err := credstore.NewRedisStore(ctx, credstore.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, urls, log.WithComponent("credstore"))
	if err != nil {
		return nil, err
	}
	svc.health.RegisterChecker(health.NewPingChecker("redis", false, rs.Ping))
	svc.onShutdown("redis", func(context.Context) error { return rs.Close() })
	return rs, nil
}

// buildUploader picks S3 when a bucket is configured and a local replay
// directory otherwise. A nil uploader keeps archives where they were made.
func buildUploader(cfg config.Config, svc *service) (archive.Uploader, error) {
	s3cfg := objectstore.Config{
		Endpoint:        cfg.Storage.Endpoint,
		Region:          cfg.Storage.Region,
		Bucket:          cfg.Storage.Bucket,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		PublicBaseURL:   cfg.Storage.PublicBaseURL,
		PublicRead:      cfg.Storage.PublicRead,
	}
	if s3cfg.IsConfigured() {
		s3s, err := objectstore.NewS3Store(s3cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 storage: %w", err)
		}
		svc.health.RegisterChecker(health.NewPingChecker("storage", true, s3s.Check))
		return s3s, nil
	}
	if cfg.Storage.Bucket != "" {
		return nil, fmt.Errorf("s3 storage: %w: bucket %q needs access keys", objectstore.ErrNotConfigured, cfg.Storage.Bucket)
	}
	if cfg.Storage.LocalDir == "" {
		return nil, nil
	}
	ds := objectstore.DirStore{Root: cfg.Storage.LocalDir, BaseURL: cfg.Storage.PublicBaseURL}
	svc.health.RegisterChecker(health.NewPingChecker("storage", true, ds.Check))
	return ds, nil
}

func buildNotifier(ctx context.Context, cfg config.Config, svc *service) notify.Notifier {
	if cfg.Notify.URL == "" {
		return notify.Nop{}
	}
	b := notify.NewBroadcaster(notify.Config{URL: cfg.Notify.URL, Server: cfg.Notify.Server}, log.WithComponent("notify"))
	b.Start(context.WithoutCancel(ctx))
	svc.onShutdown("notify", func(context.Context) error {
		b.Close()
		return nil
	})
	return b
}

// buildService wires every component from cfg.
func buildService(ctx context.Context, cfg config.Config) (*service, error) {
	svc := &service{health: health.NewManager(cfg.Version)}
	svc.health.RegisterChecker(health.NewBinaryChecker("ffmpeg", cfg.FFmpeg.Path))
	svc.health.RegisterChecker(health.NewBinaryChecker("ffprobe", cfg.FFmpeg.ProbePath))
	if cfg.Relay.PreviewDir != "" {
		svc.health.RegisterChecker(health.NewDirChecker("preview_dir", cfg.Relay.PreviewDir))
	}
	if cfg.Archive.Mode == ingest.ArchiveNative {
		svc.health.RegisterChecker(health.NewDirChecker("archive_dir", cfg.Archive.Dir))
	}

	st, err := buildStore(ctx, cfg, svc)
	if err != nil {
		return nil, err
	}
	uploader, err := buildUploader(cfg, svc)
	if err != nil {
		return nil, err
	}
	notifier := buildNotifier(ctx, cfg, svc)

	runner := ffmpeg.ExecRunner{}
	launcher := ffmpeg.NewExecLauncher(cfg.FFmpeg.Path, 0)
	captureLauncher := ffmpeg.NewExecLauncher(cfg.FFmpeg.Path, cfg.FFmpeg.CaptureKillGrace)
	prober := probe.New(cfg.FFmpeg.ProbePath, runner)
	opts := func(component string) supervisor.Options {
		return supervisor.Options{
			StopEscalation: cfg.Pipelines.StopEscalation,
			UpdateInterval: cfg.Pipelines.UpdateInterval,
			Notifier:       notifier,
			Logger:         log.WithComponent(component),
		}
	}

	relay := supervisor.NewRelay(supervisor.RelayConfig{
		IngestHost:       cfg.Ingest.Host,
		FFmpegPath:       cfg.FFmpeg.Path,
		ProbeTimeout:     cfg.Relay.ProbeTimeout,
		MaxBitrateKbps:   float64(cfg.Relay.MaxBitrateKbps),
		SnapshotInterval: cfg.Relay.SnapshotInterval,
		PreviewDir:       cfg.Relay.PreviewDir,
	}, launcher, prober, runner, opts("relay"))
	transcoder := supervisor.NewTranscoder(supervisor.TranscoderConfig{IngestHost: cfg.Ingest.Host}, launcher, st, opts("transcoder"))
	restreamer := supervisor.NewRestreamer(supervisor.RestreamerConfig{IngestHost: cfg.Ingest.Host}, launcher, st, opts("restreamer"))

	tm := &archive.Transmuxer{
		FFmpegPath:     cfg.FFmpeg.Path,
		Service:        cfg.Archive.Service,
		ThumbnailCount: cfg.Archive.ThumbnailCount,
		Runner:         runner,
		Prober:         prober,
		Store:          uploader,
		Logger:         log.WithComponent("archive"),
	}
	archiver := archive.New(archive.Config{
		IngestHost:          cfg.Ingest.Host,
		Dir:                 cfg.Archive.Dir,
		Service:             cfg.Archive.Service,
		StartConfirmTimeout: cfg.Archive.StartConfirmTimeout,
		StopEscalation:      cfg.Pipelines.StopEscalation,
	}, captureLauncher, tm, st, log.WithComponent("archive"))

	live := streams.New(streams.Config{IngestHost: cfg.Ingest.Host, ProbeTimeout: cfg.Relay.ProbeTimeout}, prober, st, log.WithComponent("streams"))

	ctl := ingestctl.New(cfg.Ingest.ControlURL)
	svc.health.RegisterChecker(health.NewPingChecker("ingest", true, ctl.Ping))

	svc.gateway = ingest.NewGateway(ingest.Config{
		LiveStatusDelay:   cfg.Ingest.LiveStatusDelay,
		ArchiveMode:       cfg.Archive.Mode,
		ArchiveRetries:    cfg.Archive.Retries,
		ArchiveRetryDelay: cfg.Archive.RetryDelay,
	}, ingest.Deps{
		Store:    st,
		Relay:    relay,
		Streams:  live,
		Archiver: archiver,
		Recorder: ctl,
		Stoppers: []ingest.Stopper{transcoder, restreamer},
	}, log.WithComponent("ingest"))

	rpm := 0
	if cfg.RateLimit.Enabled {
		rpm = cfg.RateLimit.RequestsPerMinute
	}
	svc.handler = api.New(api.Config{OperatorRPM: rpm, Service: cfg.Archive.Service}, api.Deps{
		Gateway:    svc.gateway,
		Relay:      relay,
		Transcoder: transcoder,
		Restreamer: restreamer,
		Archiver:   archiver,
		Recorder:   ctl,
		Records:    st,
		Streams:    live,
		Health:     svc.health,
	}, log.WithComponent("api")).Handler()

	// Registered after the store and notifier so they run before them.
	svc.onShutdown("streams", live.Shutdown)
	svc.onShutdown("archive", archiver.Shutdown)
	svc.onShutdown("pipelines", func(ctx context.Context) error {
		return errors.Join(relay.StopAll(ctx), transcoder.StopAll(ctx), restreamer.StopAll(ctx))
	})
	svc.onShutdown("gateway", svc.gateway.Close)
	return svc, nil
}
