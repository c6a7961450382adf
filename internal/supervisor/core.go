// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package supervisor starts, stops and tracks the long-running ffmpeg
// pipelines of each streamer: the HLS relay, the transcode ladder and
// third-party restreams.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/bitwave-tv/bitwave-media-server/internal/log"
	"github.com/bitwave-tv/bitwave-media-server/internal/metrics"
	"github.com/bitwave-tv/bitwave-media-server/internal/notify"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/exec/ffmpeg"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/registry"
)

const (
	defaultStopEscalation = 10 * time.Second
	defaultUpdateInterval = 5 * time.Second
	hookTimeout           = 10 * time.Second
)

var errStopTimeout = errors.New("no exit after stop")

// Options are shared by every supervisor kind.
type Options struct {
	// StopEscalation bounds how long a stopped pipeline may take to report
	// its exit before the record is force-removed.
	StopEscalation time.Duration
	// UpdateInterval throttles outward progress notifications per user.
	UpdateInterval time.Duration
	Notifier       notify.Notifier
	Logger         zerolog.Logger
}

func (o *Options) applyDefaults(component string) {
	if o.StopEscalation <= 0 {
		o.StopEscalation = defaultStopEscalation
	}
	if o.UpdateInterval <= 0 {
		o.UpdateInterval = defaultUpdateInterval
	}
	if o.Notifier == nil {
		o.Notifier = notify.Nop{}
	}
	o.Logger = o.Logger.With().Str(log.FieldComponent, component).Logger()
}

// plan is what a kind contributes to one run.
type plan struct {
	spec   ffmpeg.Spec
	target string // safe to log and expose; never contains secrets

	onActive   func(ctx context.Context, view model.RecordView)
	onStopping func(ctx context.Context, view model.RecordView)
	// onTerminal runs exactly once per launched or failed-to-launch run.
	onTerminal func(ctx context.Context, view model.RecordView, ev ffmpeg.Event)
	notifyData func(view model.RecordView) any
}

type run struct {
	plan  *plan
	id    registry.ID
	user  string
	timer *time.Timer
}

// core implements the start/stop/track lifecycle shared by all kinds.
type core struct {
	kind     model.Kind
	topic    notify.Topic
	reg      *registry.Registry
	launcher ffmpeg.Launcher
	opts     Options

	mu       sync.Mutex
	runs     map[registry.Token]*run
	limiters map[string]*rate.Limiter

	wg sync.WaitGroup
}

func newCore(kind model.Kind, topic notify.Topic, launcher ffmpeg.Launcher, opts Options) *core {
	opts.applyDefaults(string(kind))
	return &core{
		kind:     kind,
		topic:    topic,
		reg:      registry.New(kind),
		launcher: launcher,
		opts:     opts,
		runs:     make(map[registry.Token]*run),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (c *core) logger(user string) zerolog.Logger {
	return c.opts.Logger.With().Str(log.FieldKind, string(c.kind)).Str(log.FieldUser, user).Logger()
}

// launch reserves the slot, runs prepare, spawns the process and hands the
// event stream to a watcher goroutine. It returns once the process runs.
func (c *core) launch(ctx context.Context, id registry.ID, prepare func(ctx context.Context, tok registry.Token) (*plan, error)) error {
	logger := log.WithContext(ctx, c.logger(id.User))

	tok, err := c.reg.Reserve(id)
	if err != nil {
		metrics.IncPipelineStart(string(c.kind), "conflict")
		return err
	}

	p, err := prepare(ctx, tok)
	if err != nil {
		c.reg.Remove(tok, model.StateFailed)
		metrics.IncPipelineStart(string(c.kind), "rejected")
		logger.Warn().Err(err).Msg("pipeline start rejected")
		return err
	}
	bg := context.WithoutCancel(ctx)

	h, err := c.launcher.Launch(ctx, fmt.Sprintf("%s/%s", c.kind, id.Key()), p.spec)
	if err != nil {
		if !errors.Is(err, model.ErrSpawnFailure) && !errors.Is(err, model.ErrInvalidTarget) {
			err = fmt.Errorf("%w: %w", model.ErrSpawnFailure, err)
		}
		if view, ok := c.reg.Remove(tok, model.StateFailed); ok && p.onTerminal != nil {
			p.onTerminal(bg, view, ffmpeg.Event{Type: ffmpeg.EventFailed, Cause: model.CauseSpawn, Err: err, At: time.Now()})
		}
		metrics.IncPipelineStart(string(c.kind), "spawn_error")
		logger.Error().Err(err).Msg("pipeline spawn failed")
		return err
	}

	r := &run{plan: p, id: id, user: id.User}
	c.mu.Lock()
	c.runs[tok] = r
	c.mu.Unlock()

	c.reg.Attach(tok, h, p.target)
	metrics.IncPipelineStart(string(c.kind), "success")
	logger.Info().Str(log.FieldTarget, p.target).Msg("pipeline launched")

	c.wg.Add(1)
	go c.watch(bg, tok, h, r)

	// A stop that raced with the launch found no handle to terminate.
	if view, ok := c.reg.Get(id); ok && view.State == model.StateStopping {
		if cur, ok := c.reg.Token(id); ok && cur == tok {
			c.terminate(tok, h)
		}
	}
	return nil
}

// watch is the single consumer of a run's events.
func (c *core) watch(ctx context.Context, tok registry.Token, h *ffmpeg.Handle, r *run) {
	defer c.wg.Done()
	logger := log.WithContext(ctx, c.logger(r.user))

	for ev := range h.Events() {
		switch ev.Type {
		case ffmpeg.EventStarted:
			view, ok := c.reg.Activate(tok)
			if !ok || view.State != model.StateActive {
				continue
			}
			logger.Info().Str(log.FieldNewState, string(view.State)).Msg("pipeline active")
			if r.plan.onActive != nil {
				hctx, cancel := context.WithTimeout(ctx, hookTimeout)
				r.plan.onActive(hctx, view)
				cancel()
			}
			c.notify(notify.ActionConnect, r, view)

		case ffmpeg.EventProgress:
			if !c.reg.UpdateStats(tok, ev.Stats) {
				logger.Debug().Msg("dropping progress for removed record")
				continue
			}
			if c.allowUpdate(r.id.Key()) {
				if view, ok := c.reg.Get(r.id); ok {
					c.notify(notify.ActionUpdate, r, view)
				}
			}

		case ffmpeg.EventEnded, ffmpeg.EventFailed:
			c.finish(ctx, tok, r, ev)
		}
	}
}

// finish removes the record for a terminal event. Removal happens once;
// later calls for the same token are no-ops.
func (c *core) finish(ctx context.Context, tok registry.Token, r *run, ev ffmpeg.Event) {
	final := model.StateStopped
	reason := "ended"
	if ev.Type == ffmpeg.EventFailed {
		switch ev.Cause {
		case model.CauseKilled:
			reason = "killed"
		default:
			final = model.StateFailed
			reason = string(ev.Cause)
		}
	}

	view, ok := c.reg.Remove(tok, final)
	if !ok {
		return
	}

	c.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
	}
	delete(c.runs, tok)
	delete(c.limiters, r.id.Key())
	c.mu.Unlock()

	metrics.IncPipelineExit(string(c.kind), reason)
	logger := log.WithContext(ctx, c.logger(r.user))
	switch {
	case final == model.StateFailed:
		logger.Error().Err(ev.Err).Str(log.FieldCause, string(ev.Cause)).Strs("stderr", ev.Diagnostics).Msg("pipeline crashed")
	default:
		logger.Info().Str("reason", reason).Str(log.FieldNewState, string(final)).Msg("pipeline ended")
	}

	if r.plan.onTerminal != nil {
		hctx, cancel := context.WithTimeout(ctx, hookTimeout)
		r.plan.onTerminal(hctx, view, ev)
		cancel()
	}
	c.notify(notify.ActionDisconnect, r, view)
}

// stop marks the record stopping and signals its process. The record stays
// until its terminal event, or until the escalation timeout fires.
func (c *core) stop(ctx context.Context, id registry.ID) (bool, error) {
	h, tok, view, err := c.reg.MarkStopping(id)
	if err != nil {
		return false, err
	}
	logger := log.WithContext(ctx, c.logger(view.User))
	logger.Info().Str(log.FieldNewState, string(view.State)).Msg("stopping pipeline")

	c.mu.Lock()
	r := c.runs[tok]
	c.mu.Unlock()

	if r != nil && r.plan.onStopping != nil {
		r.plan.onStopping(ctx, view)
	}
	if h != nil {
		c.terminate(tok, h)
	}
	return true, nil
}

func (c *core) terminate(tok registry.Token, h *ffmpeg.Handle) {
	c.mu.Lock()
	if r, ok := c.runs[tok]; ok && r.timer == nil {
		r.timer = time.AfterFunc(c.opts.StopEscalation, func() { c.escalate(tok) })
	}
	c.mu.Unlock()
	h.Terminate()
}

// escalate force-removes a record whose process did not exit after stop.
func (c *core) escalate(tok registry.Token) {
	c.mu.Lock()
	r, ok := c.runs[tok]
	c.mu.Unlock()
	if !ok {
		return
	}

	ctx := context.Background()
	view, removed := c.reg.Remove(tok, model.StateFailed)
	if !removed {
		return
	}
	c.mu.Lock()
	delete(c.runs, tok)
	delete(c.limiters, r.id.Key())
	c.mu.Unlock()

	metrics.IncPipelineLeak(string(c.kind))
	metrics.IncPipelineExit(string(c.kind), "escalated")
	logger := c.logger(r.user)
	logger.Warn().
		Dur("after", c.opts.StopEscalation).
		Msg("pipeline did not exit after stop; force-removed record, process may be leaked")

	if r.plan.onTerminal != nil {
		hctx, cancel := context.WithTimeout(ctx, hookTimeout)
		r.plan.onTerminal(hctx, view, ffmpeg.Event{Type: ffmpeg.EventFailed, Cause: model.CauseKilled, Err: errStopTimeout, At: time.Now()})
		cancel()
	}
	c.notify(notify.ActionDisconnect, r, view)
}

func (c *core) allowUpdate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(c.opts.UpdateInterval), 1)
		c.limiters[key] = l
	}
	return l.Allow()
}

func (c *core) notify(action notify.Action, r *run, view model.RecordView) {
	if c.topic == "" {
		return
	}
	var data any = view
	if r.plan.notifyData != nil {
		data = r.plan.notifyData(view)
	}
	c.opts.Notifier.Notify(c.topic, action, view.User, data)
}

// stopAll stops every tracked record and waits for the watchers to exit.
func (c *core) stopAll(ctx context.Context) error {
	for _, id := range c.reg.IDs() {
		if _, err := c.stop(ctx, id); err != nil && !errors.Is(err, model.ErrNotRunning) {
			logger := c.logger(id.User)
			logger.Warn().Err(err).Msg("stop during shutdown failed")
		}
	}
	return c.wait(ctx)
}

// wait blocks until every watcher goroutine has returned.
func (c *core) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s supervisor: %w", c.kind, ctx.Err())
	}
}
