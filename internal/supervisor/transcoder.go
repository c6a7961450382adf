// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"fmt"

	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/exec/ffmpeg"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/registry"
)

// TranscodeStatus records whether adaptive playback is available for a user.
type TranscodeStatus interface {
	SetTranscodeStatus(ctx context.Context, user string, transcoded bool, variant string) error
}

// Rung is one rendition of the transcode ladder.
type Rung struct {
	Suffix  string
	Size    string
	Bitrate string
}

var (
	Rung144 = Rung{Suffix: "_144", Size: "256x144", Bitrate: "250k"}
	Rung480 = Rung{Suffix: "_480", Size: "854x480", Bitrate: "500k"}
)

func (r Rung) options() []string {
	return []string{
		"-codec:v", "libx264",
		"-preset", "veryfast",
		"-b:v", r.Bitrate,
		"-maxrate", r.Bitrate,
		"-bufsize", r.Bitrate,
		"-g", "60",
		"-crf", "35",
		"-s", r.Size,
		"-codec:a", "copy",
		"-f", "flv",
	}
}

// TranscodeSpec builds the ladder for the enabled rungs plus the source
// passthrough. It returns false if no rung is enabled.
func TranscodeSpec(host, user string, enable144, enable480 bool) (ffmpeg.Spec, bool) {
	if !enable144 && !enable480 {
		return ffmpeg.Spec{}, false
	}
	base := fmt.Sprintf("rtmp://%s/transcode/%s", host, user)

	var outs []ffmpeg.OutputSpec
	for _, r := range []struct {
		on   bool
		rung Rung
	}{{enable144, Rung144}, {enable480, Rung480}} {
		if r.on {
			outs = append(outs, ffmpeg.OutputSpec{Target: base + r.rung.Suffix, Options: r.rung.options()})
		}
	}
	outs = append(outs, ffmpeg.OutputSpec{
		Target:  fmt.Sprintf("%s_src?user=%s", base, user),
		Options: []string{"-codec:v", "copy", "-codec:a", "copy", "-f", "flv"},
	})

	return ffmpeg.Spec{
		Input:   ffmpeg.InputSpec{URL: IngestURL(host, user), Options: []string{"-err_detect", "ignore_err"}},
		Outputs: outs,
	}, true
}

// TranscoderConfig configures the transcode ladder.
type TranscoderConfig struct {
	IngestHost string
	// Variant is the CDN application the ladder is published under.
	Variant string
}

// Transcoder runs the adaptive bitrate ladder for a streamer.
type Transcoder struct {
	*core
	cfg    TranscoderConfig
	status TranscodeStatus
}

// NewTranscoder creates a transcoder supervisor.
func NewTranscoder(cfg TranscoderConfig, launcher ffmpeg.Launcher, status TranscodeStatus, opts Options) *Transcoder {
	if cfg.Variant == "" {
		cfg.Variant = "transcode"
	}
	return &Transcoder{
		core:   newCore(model.KindTranscode, "", launcher, opts),
		cfg:    cfg,
		status: status,
	}
}

// Start launches the ladder. With no rung enabled it does nothing and
// returns false.
func (t *Transcoder) Start(ctx context.Context, user string, enable144, enable480 bool) (bool, error) {
	spec, ok := TranscodeSpec(t.cfg.IngestHost, user, enable144, enable480)
	if !ok {
		return false, nil
	}

	err := t.launch(ctx, registry.UserID(user), func(context.Context, registry.Token) (*plan, error) {
		return &plan{
			spec:   spec,
			target: fmt.Sprintf("rtmp://%s/transcode/%s", t.cfg.IngestHost, user),
			onActive: func(ctx context.Context, view model.RecordView) {
				t.setStatus(ctx, view.User, true)
			},
			onStopping: func(ctx context.Context, view model.RecordView) {
				t.setStatus(ctx, view.User, false)
			},
			onTerminal: func(ctx context.Context, view model.RecordView, _ ffmpeg.Event) {
				t.setStatus(ctx, view.User, false)
			},
		}, nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *Transcoder) setStatus(ctx context.Context, user string, on bool) {
	if t.status == nil {
		return
	}
	if err := t.status.SetTranscodeStatus(ctx, user, on, t.cfg.Variant); err != nil {
		logger := t.logger(user)
		logger.Warn().Err(err).Bool("transcoded", on).Msg("failed to update transcode status")
	}
}

// Stop kills the ladder for user.
func (t *Transcoder) Stop(ctx context.Context, user string) (bool, error) {
	return t.stop(ctx, registry.UserID(user))
}

// Get returns a snapshot of the transcoder for user.
func (t *Transcoder) Get(user string) (model.RecordView, bool) {
	return t.reg.Get(registry.UserID(user))
}

// List returns snapshots of every transcoder.
func (t *Transcoder) List() []model.RecordView { return t.reg.List() }

// StopAll stops every transcoder and waits for them to exit.
func (t *Transcoder) StopAll(ctx context.Context) error { return t.stopAll(ctx) }
