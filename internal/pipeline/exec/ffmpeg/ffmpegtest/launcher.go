// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ffmpegtest provides scripted stand-ins for the ffmpeg launcher and
// one-shot runner so supervisors can be exercised without real processes.
package ffmpegtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/exec/ffmpeg"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
)

// ErrTerminated is the exit error reported for a fake process that was terminated.
var ErrTerminated = errors.New("signal: terminated")

// Process is one fake pipeline run. Tests drive it through its methods.
type Process struct {
	Label  string
	Spec   ffmpeg.Spec
	Handle *ffmpeg.Handle

	emitter    *ffmpeg.Emitter
	terminated chan struct{}
}

// Progress emits a progress snapshot.
func (p *Process) Progress(st model.Stats) { p.emitter.Progress(st) }

// End finishes the process with a clean exit.
func (p *Process) End() { p.emitter.Finish(nil, nil) }

// Crash finishes the process with a runtime failure.
func (p *Process) Crash(err error, diagnostics ...string) { p.emitter.Finish(err, diagnostics) }

// Terminated is closed once the handle's Terminate was called.
func (p *Process) Terminated() <-chan struct{} { return p.terminated }

// Launcher is a scripted ffmpeg.Launcher.
type Launcher struct {
	mu    sync.Mutex
	procs []*Process
	err   error

	// HoldOnTerminate keeps terminated processes alive so tests can exercise
	// stop escalation.
	HoldOnTerminate bool

	launched chan *Process
}

// NewLauncher creates an empty fake launcher.
func NewLauncher() *Launcher {
	return &Launcher{launched: make(chan *Process, 64)}
}

// FailNext makes the next Launch return err.
func (l *Launcher) FailNext(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

// Launch implements ffmpeg.Launcher.
func (l *Launcher) Launch(_ context.Context, label string, spec ffmpeg.Spec) (*ffmpeg.Handle, error) {
	l.mu.Lock()
	if err := l.err; err != nil {
		l.err = nil
		l.mu.Unlock()
		return nil, err
	}
	hold := l.HoldOnTerminate
	l.mu.Unlock()

	if _, err := ffmpeg.BuildArgs(spec); err != nil {
		return nil, errors.Join(model.ErrInvalidTarget, err)
	}

	p := &Process{Label: label, Spec: spec, terminated: make(chan struct{})}
	p.Handle, p.emitter = ffmpeg.NewHandle(label, func() {
		close(p.terminated)
		if !hold {
			go p.emitter.Finish(ErrTerminated, nil)
		}
	})
	p.emitter.Started("ffmpeg " + strings.Join(spec.Targets(), " "))

	l.mu.Lock()
	l.procs = append(l.procs, p)
	l.mu.Unlock()
	l.launched <- p
	return p.Handle, nil
}

// Launched delivers processes in launch order.
func (l *Launcher) Launched() <-chan *Process { return l.launched }

// Processes returns all launched processes.
func (l *Launcher) Processes() []*Process {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Process(nil), l.procs...)
}

// Count returns the number of successful launches.
func (l *Launcher) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}
