// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"strings"
	"sync"
)

// LineRing is a thread-safe ring buffer for capturing the last N lines of log output.
type LineRing struct {
	mu      sync.RWMutex
	lines   []string
	head    int
	count   int
	partial string
}

// NewLineRing creates a LineRing with the specified capacity.
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = 50
	}
	return &LineRing{lines: make([]string, capacity)}
}

// Write implements io.Writer. Input without a trailing newline is held until
// the rest of the line arrives.
func (r *LineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.partial + string(p)
	parts := strings.Split(s, "\n")
	r.partial = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		r.push(line)
	}
	return len(p), nil
}

// Add stores a single complete line.
func (r *LineRing) Add(line string) {
	if line == "" {
		return
	}
	r.mu.Lock()
	r.push(line)
	r.mu.Unlock()
}

func (r *LineRing) push(line string) {
	r.lines[r.head] = line
	r.head = (r.head + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
}

// LastN returns the last N lines in chronological order.
func (r *LineRing) LastN(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]string, 0, n)
	size := len(r.lines)
	for i := n; i > 0; i-- {
		out = append(out, r.lines[(r.head-i+size)%size])
	}
	return out
}
