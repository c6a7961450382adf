// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpegtest

import (
	"context"
	"strings"
	"sync"
)

// Call records one invocation of Runner.Run.
type Call struct {
	Name string
	Args []string
}

// Line renders the call as a single command line.
func (c Call) Line() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Runner is a scripted ffmpeg.Runner. Handler decides the result of each call.
type Runner struct {
	mu      sync.Mutex
	calls   []Call
	Handler func(ctx context.Context, name string, args []string) ([]byte, error)
}

// Run implements ffmpeg.Runner.
func (r *Runner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Name: name, Args: append([]string(nil), args...)})
	h := r.Handler
	r.mu.Unlock()
	if h == nil {
		return nil, nil
	}
	return h(ctx, name, args)
}

// Calls returns a copy of all recorded calls.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}
