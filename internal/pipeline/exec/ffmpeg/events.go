// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
)

// EventType enumerates the lifecycle notifications of a pipeline process.
type EventType int

const (
	EventStarted EventType = iota + 1
	EventProgress
	EventEnded
	EventFailed
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventEnded:
		return "ended"
	case EventFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the event ends the stream.
func (t EventType) Terminal() bool {
	return t == EventEnded || t == EventFailed
}

// Event is one lifecycle notification. Fields are populated per Type.
type Event struct {
	Type        EventType
	At          time.Time
	Command     string      // Started
	Stats       model.Stats // Progress
	Cause       model.Cause // Failed
	Err         error       // Failed
	Diagnostics []string    // Failed: last stderr lines
}

const eventBuffer = 32

// Handle is the caller's view of one running pipeline process. Events are
// delivered in order: one Started, any number of Progress, one terminal.
type Handle struct {
	label  string
	events chan Event
	done   chan struct{}

	killed    atomic.Bool
	termOnce  sync.Once
	terminate func()
}

// Emitter is the producing side of a Handle.
type Emitter struct {
	h        *Handle
	mu       sync.Mutex
	started  bool
	finished bool
}

// NewHandle creates a handle whose Terminate calls terminate at most once.
func NewHandle(label string, terminate func()) (*Handle, *Emitter) {
	if terminate == nil {
		terminate = func() {}
	}
	h := &Handle{
		label:     label,
		events:    make(chan Event, eventBuffer),
		done:      make(chan struct{}),
		terminate: terminate,
	}
	return h, &Emitter{h: h}
}

// Label returns the name the handle was launched with.
func (h *Handle) Label() string { return h.label }

// Events returns the event stream. It is closed after the terminal event.
func (h *Handle) Events() <-chan Event { return h.events }

// Done is closed once the terminal event has been emitted.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Terminate requests the process to stop. It is idempotent.
func (h *Handle) Terminate() {
	h.termOnce.Do(func() {
		h.killed.Store(true)
		h.terminate()
	})
}

// Killed reports whether Terminate was called.
func (h *Handle) Killed() bool { return h.killed.Load() }

// Wait blocks until the process has finished or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Started emits the started event once.
func (e *Emitter) Started(command string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.finished {
		return
	}
	e.started = true
	e.h.events <- Event{Type: EventStarted, At: time.Now(), Command: command}
}

// Progress emits a progress snapshot. Snapshots are dropped while the
// consumer is behind; only the latest state matters.
func (e *Emitter) Progress(st model.Stats) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.finished {
		return
	}
	select {
	case e.h.events <- Event{Type: EventProgress, At: time.Now(), Stats: st}:
	default:
	}
}

// Finish emits exactly one terminal event derived from the exit error and
// closes the stream. A kill requested through Terminate is reported as
// CauseKilled regardless of the exit status.
func (e *Emitter) Finish(exitErr error, diagnostics []string) {
	switch {
	case e.h.Killed() && exitErr != nil:
		e.finish(Event{Type: EventFailed, Cause: model.CauseKilled, Err: exitErr, Diagnostics: diagnostics})
	case exitErr != nil:
		e.finish(Event{Type: EventFailed, Cause: model.CauseRuntime, Err: exitErr, Diagnostics: diagnostics})
	default:
		e.finish(Event{Type: EventEnded})
	}
}

// Fail emits a terminal failure with an explicit cause.
func (e *Emitter) Fail(cause model.Cause, err error, diagnostics []string) {
	e.finish(Event{Type: EventFailed, Cause: cause, Err: err, Diagnostics: diagnostics})
}

func (e *Emitter) finish(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return
	}
	e.finished = true
	ev.At = time.Now()
	e.h.events <- ev
	close(e.h.events)
	close(e.h.done)
}
