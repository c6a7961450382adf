// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bitwave-tv/bitwave-media-server/internal/log"
	"github.com/bitwave-tv/bitwave-media-server/internal/notify"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/exec/ffmpeg"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/registry"
)

// RestreamStore holds the externally visible restream records.
type RestreamStore interface {
	CreateRestream(ctx context.Context, user, server string) (string, error)
	SetRestreamState(ctx context.Context, id string, state model.State) error
}

// RestreamerConfig configures third-party restreams.
type RestreamerConfig struct {
	IngestHost string
}

// Restreamer pushes a streamer's ingest to a remote RTMP server.
type Restreamer struct {
	*core
	cfg   RestreamerConfig
	store RestreamStore
}

// NewRestreamer creates a restream supervisor.
func NewRestreamer(cfg RestreamerConfig, launcher ffmpeg.Launcher, store RestreamStore, opts Options) *Restreamer {
	return &Restreamer{
		core:  newCore(model.KindRestream, notify.TopicRestreamer, launcher, opts),
		cfg:   cfg,
		store: store,
	}
}

// ValidateTarget checks a remote server URL and stream key.
func ValidateTarget(server, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: missing stream key", model.ErrInvalidTarget)
	}
	u, err := url.Parse(strings.TrimSpace(server))
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidTarget, err)
	}
	if (u.Scheme != "rtmp" && u.Scheme != "rtmps") || u.Host == "" {
		return fmt.Errorf("%w: server must be an rtmp:// or rtmps:// URL", model.ErrInvalidTarget)
	}
	return nil
}

// RestreamSpec copies the ingest to server/key.
func RestreamSpec(host, user, server, key string) ffmpeg.Spec {
	return ffmpeg.Spec{
		Input: ffmpeg.InputSpec{URL: IngestURL(host, user), Options: []string{"-err_detect", "ignore_err"}},
		Outputs: []ffmpeg.OutputSpec{{
			Target:  strings.TrimRight(strings.TrimSpace(server), "/") + "/" + strings.TrimSpace(key),
			Options: []string{"-codec:v", "copy", "-codec:a", "copy", "-f", "flv"},
		}},
	}
}

type restreamNotice struct {
	model.RecordView
	Server string `json:"server"`
}

// Start creates the external restream record and launches the push.
func (r *Restreamer) Start(ctx context.Context, user, server, key string) (bool, error) {
	if err := ValidateTarget(server, key); err != nil {
		return false, err
	}

	err := r.launch(ctx, registry.UserID(user), func(ctx context.Context, tok registry.Token) (*plan, error) {
		var externalID string
		if r.store != nil {
			id, err := r.store.CreateRestream(ctx, user, server)
			if err != nil {
				return nil, fmt.Errorf("create restream record: %w", err)
			}
			externalID = id
			r.reg.SetExternalID(tok, id)
		}

		setState := func(ctx context.Context, state model.State) {
			if r.store == nil || externalID == "" {
				return
			}
			if err := r.store.SetRestreamState(ctx, externalID, state); err != nil {
				logger := r.logger(user)
				logger.Warn().Err(err).Str(log.FieldExternalID, externalID).Str(log.FieldNewState, string(state)).
					Msg("failed to push restream state")
			}
		}

		return &plan{
			spec:   RestreamSpec(r.cfg.IngestHost, user, server, key),
			target: server,
			onActive: func(ctx context.Context, _ model.RecordView) {
				setState(ctx, model.StateActive)
			},
			onStopping: func(ctx context.Context, _ model.RecordView) {
				setState(ctx, model.StateStopping)
			},
			onTerminal: func(ctx context.Context, view model.RecordView, _ ffmpeg.Event) {
				setState(ctx, view.State)
			},
			notifyData: func(view model.RecordView) any {
				return restreamNotice{RecordView: view, Server: server}
			},
		}, nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stop kills the restream for user.
func (r *Restreamer) Stop(ctx context.Context, user string) (bool, error) {
	return r.stop(ctx, registry.UserID(user))
}

// Get returns a snapshot of the restream for user.
func (r *Restreamer) Get(user string) (model.RecordView, bool) {
	return r.reg.Get(registry.UserID(user))
}

// List returns snapshots of every restream.
func (r *Restreamer) List() []model.RecordView { return r.reg.List() }

// StopAll stops every restream and waits for them to exit.
func (r *Restreamer) StopAll(ctx context.Context) error { return r.stopAll(ctx) }
