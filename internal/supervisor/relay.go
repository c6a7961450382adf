// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bitwave-tv/bitwave-media-server/internal/log"
	"github.com/bitwave-tv/bitwave-media-server/internal/media/probe"
	"github.com/bitwave-tv/bitwave-media-server/internal/metrics"
	"github.com/bitwave-tv/bitwave-media-server/internal/notify"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/exec/ffmpeg"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/registry"
)

const (
	maxProbeTimeout         = 15 * time.Second
	defaultSnapshotInterval = 60 * time.Second
	snapshotTimeout         = 20 * time.Second
)

// Prober inspects a live input before a relay is started.
type Prober interface {
	Probe(ctx context.Context, input string) (probe.MediaInfo, error)
}

// RelayConfig configures the HLS relay.
type RelayConfig struct {
	IngestHost       string
	FFmpegPath       string
	ProbeTimeout     time.Duration
	MaxBitrateKbps   float64 // 0 disables the ceiling
	SnapshotInterval time.Duration
	PreviewDir       string // empty disables snapshots
}

// Relay copies a streamer's ingest to the HLS application and keeps a
// preview image fresh while it runs.
type Relay struct {
	*core
	cfg    RelayConfig
	prober Prober
	runner ffmpeg.Runner
}

// NewRelay creates a relay supervisor.
func NewRelay(cfg RelayConfig, launcher ffmpeg.Launcher, prober Prober, runner ffmpeg.Runner, opts Options) *Relay {
	if cfg.ProbeTimeout <= 0 || cfg.ProbeTimeout > maxProbeTimeout {
		cfg.ProbeTimeout = maxProbeTimeout
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = defaultSnapshotInterval
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if runner == nil {
		runner = ffmpeg.ExecRunner{}
	}
	return &Relay{
		core:   newCore(model.KindRelay, notify.TopicStreamer, launcher, opts),
		cfg:    cfg,
		prober: prober,
		runner: runner,
	}
}

// IngestURL is where the streamer publishes.
func IngestURL(host, user string) string {
	return fmt.Sprintf("rtmp://%s/live/%s", host, user)
}

// RelaySpec copies the ingest into the HLS application without re-encoding.
func RelaySpec(host, user string) ffmpeg.Spec {
	return ffmpeg.Spec{
		Input: ffmpeg.InputSpec{
			URL:     IngestURL(host, user),
			Options: []string{"-re", "-err_detect", "ignore_err"},
		},
		Outputs: []ffmpeg.OutputSpec{{
			Target: fmt.Sprintf("rtmp://%s/hls/%s?user=%s", host, user, user),
			Options: []string{
				"-map_metadata", "-1",
				"-metadata", "application=bitwavetv/livestream",
				"-codec:a", "copy",
				"-codec:v", "copy",
				"-vsync", "0",
				"-copyts",
				"-start_at_zero",
				"-f", "flv",
			},
		}},
	}
}

// Start probes the ingest and launches the relay. It returns false with a
// typed error when the input is rejected or the user already has a relay.
func (r *Relay) Start(ctx context.Context, user string) (bool, error) {
	err := r.launch(ctx, registry.UserID(user), func(ctx context.Context, _ registry.Token) (*plan, error) {
		info, err := r.preflight(ctx, user)
		if err != nil {
			return nil, err
		}

		snapCtx, snapCancel := context.WithCancel(context.WithoutCancel(ctx))
		return &plan{
			spec:   RelaySpec(r.cfg.IngestHost, user),
			target: fmt.Sprintf("rtmp://%s/hls/%s", r.cfg.IngestHost, user),
			onActive: func(context.Context, model.RecordView) {
				r.startSnapshots(snapCtx, user)
			},
			onTerminal: func(context.Context, model.RecordView, ffmpeg.Event) {
				snapCancel()
			},
			notifyData: func(view model.RecordView) any {
				return relayNotice{RecordView: view, Bitrate: info.BitrateKbps()}
			},
		}, nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

type relayNotice struct {
	model.RecordView
	Bitrate float64 `json:"source_bitrate_kbps"`
}

// preflight probes the ingest within the configured timeout.
func (r *Relay) preflight(ctx context.Context, user string) (probe.MediaInfo, error) {
	if r.prober == nil {
		return probe.MediaInfo{}, nil
	}
	pctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	info, err := r.prober.Probe(pctx, IngestURL(r.cfg.IngestHost, user))
	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(pctx.Err(), context.DeadlineExceeded)):
		metrics.IncProbe("timeout")
		return info, fmt.Errorf("%w: after %s", model.ErrProbeTimeout, r.cfg.ProbeTimeout)
	case err != nil:
		metrics.IncProbe("failed")
		return info, fmt.Errorf("%w: %w", model.ErrProbeFailed, err)
	case r.cfg.MaxBitrateKbps > 0 && info.BitrateKbps() > r.cfg.MaxBitrateKbps:
		metrics.IncProbe("bitrate_too_high")
		return info, fmt.Errorf("%w: %.0f kbps exceeds %.0f kbps", model.ErrBitrateTooHigh, info.BitrateKbps(), r.cfg.MaxBitrateKbps)
	}
	metrics.IncProbe("ok")
	return info, nil
}

// SnapshotPath is where the preview image for user is written.
func (r *Relay) SnapshotPath(user string) string {
	return filepath.Join(r.cfg.PreviewDir, registry.UserID(user).Key()+".png")
}

// startSnapshots grabs a preview frame now and on every interval until ctx
// is cancelled by the relay's terminal event.
func (r *Relay) startSnapshots(ctx context.Context, user string) {
	if r.cfg.PreviewDir == "" {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.SnapshotInterval)
		defer ticker.Stop()
		for {
			r.snapshot(ctx, user)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (r *Relay) snapshot(ctx context.Context, user string) {
	if ctx.Err() != nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	if err := os.MkdirAll(r.cfg.PreviewDir, 0o755); err != nil { // #nosec G301
		logger := r.logger(user)
		logger.Warn().Err(err).Msg("preview dir unavailable")
		return
	}
	out := r.SnapshotPath(user)
	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-i", IngestURL(r.cfg.IngestHost, user),
		"-frames:v", "1",
		"-f", "image2",
		out,
	}
	if _, err := r.runner.Run(sctx, r.cfg.FFmpegPath, args...); err != nil && ctx.Err() == nil {
		logger := r.logger(user)
		logger.Warn().Err(err).Str(log.FieldPath, out).Msg("snapshot failed")
	}
}

// Stop kills the relay for user. The record is removed by the exit event.
func (r *Relay) Stop(ctx context.Context, user string) (bool, error) {
	return r.stop(ctx, registry.UserID(user))
}

// IsActive reports whether user has a relay in any non-terminal state.
func (r *Relay) IsActive(user string) bool {
	_, ok := r.reg.Get(registry.UserID(user))
	return ok
}

// Get returns a snapshot of the relay for user.
func (r *Relay) Get(user string) (model.RecordView, bool) {
	return r.reg.Get(registry.UserID(user))
}

// List returns snapshots of every relay.
func (r *Relay) List() []model.RecordView { return r.reg.List() }

// StopAll stops every relay and waits for them to exit.
func (r *Relay) StopAll(ctx context.Context) error { return r.stopAll(ctx) }
