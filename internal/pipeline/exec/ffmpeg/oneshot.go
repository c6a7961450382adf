// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"

	"github.com/bitwave-tv/bitwave-media-server/internal/procgroup"
)

// Runner executes short-lived commands (ffprobe, remux, frame grabs) to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands as child processes. Cancelling ctx kills the whole
// process group.
type ExecRunner struct{}

// Run returns stdout. On failure the error carries the tail of stderr.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204
	procgroup.Set(cmd)
	cmd.Cancel = func() error { return procgroup.Kill(cmd, syscall.SIGKILL) }

	var stdout bytes.Buffer
	ring := NewLineRing(20)
	cmd.Stdout = &stdout
	cmd.Stderr = ring

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return stdout.Bytes(), fmt.Errorf("%s: %w", name, ctx.Err())
		}
		if lines := ring.LastN(3); len(lines) > 0 {
			return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, strings.Join(lines, "; "))
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}
