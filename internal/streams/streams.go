// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package streams tracks which streamers are live and the media facts
// probed from their ingest.
package streams

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bitwave-tv/bitwave-media-server/internal/log"
	"github.com/bitwave-tv/bitwave-media-server/internal/media/probe"
)

const (
	defaultProbeTimeout = 15 * time.Second
	shutdownParallelism = 8
)

// Prober inspects a live ingest.
type Prober interface {
	Probe(ctx context.Context, input string) (probe.MediaInfo, error)
}

// LiveStatus records whether a streamer is live.
type LiveStatus interface {
	SetLiveStatus(ctx context.Context, user string, live bool) error
}

// Config configures the registry.
type Config struct {
	IngestHost   string
	ProbeTimeout time.Duration
}

// Data is a snapshot of what is known about one live streamer.
type Data struct {
	Name      string          `json:"name"`
	Probed    bool            `json:"probed"`
	ProbedAt  time.Time       `json:"probed_at,omitzero"`
	MediaInfo probe.MediaInfo `json:"media"`
}

type entry struct {
	name     string
	gen      uint64
	probed   bool
	probedAt time.Time
	info     probe.MediaInfo
}

// Registry is the set of live streamers. Names are matched
// case-insensitively and reported in the case they were added with.
type Registry struct {
	cfg    Config
	prober Prober
	status LiveStatus
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	nextGen uint64

	sf singleflight.Group
	wg sync.WaitGroup
}

// New creates an empty registry. prober and status may be nil.
func New(cfg Config, prober Prober, status LiveStatus, logger zerolog.Logger) *Registry {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	return &Registry{
		cfg:     cfg,
		prober:  prober,
		status:  status,
		logger:  logger.With().Str(log.FieldComponent, "streams").Logger(),
		entries: make(map[string]*entry),
	}
}

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// AddStreamer tracks user and probes its ingest in the background. Adding a
// tracked user again replaces the entry.
func (r *Registry) AddStreamer(ctx context.Context, user string) {
	k := key(user)
	if k == "" {
		return
	}
	r.mu.Lock()
	r.nextGen++
	gen := r.nextGen
	r.entries[k] = &entry{name: user, gen: gen}
	r.mu.Unlock()

	r.logger.Info().Str(log.FieldUser, user).Msg("streamer added")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.probe(context.WithoutCancel(ctx), k, user, gen)
	}()
}

// probe runs one probe and applies it if the entry is still the one it was
// started for.
func (r *Registry) probe(ctx context.Context, k, user string, gen uint64) bool {
	if r.prober == nil {
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	info, err := r.prober.Probe(pctx, fmt.Sprintf("rtmp://%s/live/%s", r.cfg.IngestHost, user))
	if err != nil {
		r.logger.Warn().Err(err).Str(log.FieldUser, user).Msg("stream probe failed")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[k]
	if !ok || e.gen != gen {
		r.logger.Debug().Str(log.FieldUser, user).Msg("discarding probe for removed streamer")
		return false
	}
	e.info = info
	e.probed = true
	e.probedAt = time.Now()
	return true
}

// RemoveStreamer stops tracking user. It reports whether user was tracked.
func (r *Registry) RemoveStreamer(user string) bool {
	r.mu.Lock()
	_, ok := r.entries[key(user)]
	delete(r.entries, key(user))
	r.mu.Unlock()
	if ok {
		r.logger.Info().Str(log.FieldUser, user).Msg("streamer removed")
	}
	return ok
}

// List returns the tracked names sorted case-insensitively.
func (r *Registry) List() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.name)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}

// Get returns the canonical name for user.
func (r *Registry) Get(user string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key(user)]
	if !ok {
		return "", false
	}
	return e.name, true
}

// Data returns a snapshot of the facts known about user.
func (r *Registry) Data(user string) (Data, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key(user)]
	if !ok {
		return Data{}, false
	}
	return Data{Name: e.name, Probed: e.probed, ProbedAt: e.probedAt, MediaInfo: e.info}, true
}

// Update re-probes user. Concurrent calls for one user share a probe. It
// reports whether the probe result was applied.
func (r *Registry) Update(ctx context.Context, user string) bool {
	k := key(user)
	r.mu.RLock()
	e, ok := r.entries[k]
	var name string
	var gen uint64
	if ok {
		name, gen = e.name, e.gen
	}
	r.mu.RUnlock()
	if !ok {
		return false
	}

	v, _, _ := r.sf.Do(fmt.Sprintf("%s#%d", k, gen), func() (any, error) {
		return r.probe(ctx, k, name, gen), nil
	})
	applied, _ := v.(bool)
	return applied
}

// Shutdown waits for in-flight probes and marks every tracked streamer
// offline. It is best effort and returns every failure joined.
func (r *Registry) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn().Msg("shutdown while probes are still running")
	}

	names := r.List()
	if r.status == nil || len(names) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(shutdownParallelism)
	for _, name := range names {
		g.Go(func() error {
			if err := r.status.SetLiveStatus(gctx, name, false); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := errors.Join(errs...); err != nil {
		r.logger.Warn().Err(err).Msg("failed to mark some streamers offline")
		return err
	}
	r.logger.Info().Int("count", len(names)).Msg("marked streamers offline")
	return nil
}
