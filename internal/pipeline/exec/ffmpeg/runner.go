// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/bitwave-tv/bitwave-media-server/internal/log"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
	"github.com/bitwave-tv/bitwave-media-server/internal/procgroup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	startTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_ffmpeg_start_total",
		Help: "Total number of ffmpeg process starts",
	}, []string{"result"})

	exitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_ffmpeg_exit_total",
		Help: "Total number of ffmpeg process exits",
	}, []string{"reason"})
)

// Launcher starts long-running pipeline processes.
type Launcher interface {
	Launch(ctx context.Context, label string, spec Spec) (*Handle, error)
}

// ExecLauncher runs the ffmpeg binary in its own process group.
type ExecLauncher struct {
	BinPath string
	// KillGrace is how long Terminate waits after SIGTERM before SIGKILL.
	// Zero sends SIGKILL at once. Only archive captures set it, so ffmpeg
	// can finish the container.
	KillGrace time.Duration
	Logger    zerolog.Logger
}

// NewExecLauncher creates a launcher for binPath (defaults to "ffmpeg").
func NewExecLauncher(binPath string, killGrace time.Duration) *ExecLauncher {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	if killGrace < 0 {
		killGrace = 0
	}
	return &ExecLauncher{
		BinPath:   binPath,
		KillGrace: killGrace,
		Logger:    log.WithComponent("ffmpeg"),
	}
}

// Launch spawns the process and returns once it is running. The process is
// not bound to ctx; it lives until it exits or the handle is terminated.
func (l *ExecLauncher) Launch(ctx context.Context, label string, spec Spec) (*Handle, error) {
	logger := log.WithContext(ctx, l.Logger).With().Str("label", label).Logger()

	args, err := BuildArgs(spec)
	if err != nil {
		startTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidTarget, err)
	}

	cmd := exec.Command(l.BinPath, args...) // #nosec G204
	procgroup.Set(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %w", model.ErrSpawnFailure, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %w", model.ErrSpawnFailure, err)
	}

	killCh := make(chan struct{})
	h, em := NewHandle(label, func() { close(killCh) })

	if err := cmd.Start(); err != nil {
		startTotal.WithLabelValues("spawn_error").Inc()
		logger.Error().Err(err).Str("bin", l.BinPath).Msg("ffmpeg spawn failed")
		return nil, fmt.Errorf("%w: %w", model.ErrSpawnFailure, err)
	}
	startTotal.WithLabelValues("ok").Inc()
	logger.Info().Int(log.FieldPID, cmd.Process.Pid).Str("command", cmd.String()).Msg("ffmpeg started")

	em.Started(cmd.String())
	go l.supervise(cmd, stdout, stderr, em, killCh, logger)
	return h, nil
}

func (l *ExecLauncher) supervise(cmd *exec.Cmd, stdout, stderr io.Reader, em *Emitter, killCh <-chan struct{}, logger zerolog.Logger) {
	ring := NewLineRing(64)

	// Pipes must be drained before Wait.
	var ioWg sync.WaitGroup
	ioWg.Add(2)
	go func() {
		defer ioWg.Done()
		scanProgress(stdout, em.Progress)
	}()
	go func() {
		defer ioWg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			ring.Add(scanner.Text())
		}
	}()

	waitCh := make(chan error, 1)
	go func() {
		ioWg.Wait()
		waitCh <- cmd.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-killCh:
		if l.KillGrace > 0 {
			waitErr = procgroup.Terminate(cmd, waitCh, l.KillGrace)
		} else {
			waitErr = procgroup.ForceKill(cmd, waitCh)
		}
	}

	diagnostics := ring.LastN(20)
	code := 0
	reason := "clean"
	if waitErr != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		reason = "error"
	}
	if em.h.Killed() {
		reason = "killed"
	}
	exitTotal.WithLabelValues(reason).Inc()

	switch reason {
	case "error":
		logger.Warn().Int(log.FieldExitCode, code).Strs("stderr", diagnostics).Msg("ffmpeg exited with error")
	default:
		logger.Debug().Int(log.FieldExitCode, code).Str("reason", reason).Msg("ffmpeg exited")
	}

	em.Finish(waitErr, diagnostics)
}
