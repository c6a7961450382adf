// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBinary writes an executable shell script that ignores ffmpeg flags.
func fakeBinary(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755)) // #nosec G306
	return path
}

func testSpec() Spec {
	return Spec{
		Input:   InputSpec{URL: "rtmp://ingest/live/alice"},
		Outputs: []OutputSpec{{Target: "rtmp://ingest/hls/alice", Options: []string{"-c", "copy"}}},
	}
}

func newTestLauncher(bin string) *ExecLauncher {
	l := NewExecLauncher(bin, 0)
	l.Logger = zerolog.Nop()
	return l
}

func collect(t *testing.T, h *Handle) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestExecLauncher_CleanExitWithProgress(t *testing.T) {
	bin := fakeBinary(t, `printf 'frame=10\nfps=25\nbitrate=800.0kbits/s\nout_time=00:00:01.000000\nprogress=continue\n'
printf 'frame=20\nprogress=end\n'
exit 0`)

	h, err := newTestLauncher(bin).Launch(context.Background(), "relay/alice", testSpec())
	require.NoError(t, err)

	events := collect(t, h)
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, EventStarted, events[0].Type)
	assert.Equal(t, EventEnded, events[len(events)-1].Type)

	var frames []int64
	for _, ev := range events {
		if ev.Type == EventProgress {
			frames = append(frames, ev.Stats.Frames)
		}
	}
	assert.Equal(t, []int64{10, 20}, frames)
	require.NoError(t, h.Wait(context.Background()))
}

func TestExecLauncher_RuntimeFailureCarriesDiagnostics(t *testing.T) {
	bin := fakeBinary(t, `echo "rtmp://ingest/live/alice: Input/output error" >&2
exit 1`)

	h, err := newTestLauncher(bin).Launch(context.Background(), "relay/alice", testSpec())
	require.NoError(t, err)

	events := collect(t, h)
	last := events[len(events)-1]
	assert.Equal(t, EventFailed, last.Type)
	assert.Equal(t, model.CauseRuntime, last.Cause)
	assert.Contains(t, last.Diagnostics, "rtmp://ingest/live/alice: Input/output error")
}

func TestExecLauncher_TerminateReportsKilled(t *testing.T) {
	bin := fakeBinary(t, "exec sleep 30")

	h, err := newTestLauncher(bin).Launch(context.Background(), "relay/alice", testSpec())
	require.NoError(t, err)

	first := <-h.Events()
	require.Equal(t, EventStarted, first.Type)

	h.Terminate()
	h.Terminate()

	events := collect(t, h)
	last := events[len(events)-1]
	assert.Equal(t, EventFailed, last.Type)
	assert.Equal(t, model.CauseKilled, last.Cause)
	assert.True(t, h.Killed())
}

func TestExecLauncher_TerminateIsHardKill(t *testing.T) {
	bin := fakeBinary(t, `trap '' TERM
while :; do sleep 1; done`)

	h, err := newTestLauncher(bin).Launch(context.Background(), "restream/alice", testSpec())
	require.NoError(t, err)
	require.Equal(t, EventStarted, (<-h.Events()).Type)

	start := time.Now()
	h.Terminate()
	events := collect(t, h)
	assert.Less(t, time.Since(start), 2*time.Second, "SIGTERM-ignoring process must die without a grace period")
	last := events[len(events)-1]
	assert.Equal(t, EventFailed, last.Type)
	assert.Equal(t, model.CauseKilled, last.Cause)
}

func TestExecLauncher_CaptureGraceEscalates(t *testing.T) {
	bin := fakeBinary(t, `trap '' TERM
while :; do sleep 1; done`)
	l := NewExecLauncher(bin, 300*time.Millisecond)
	l.Logger = zerolog.Nop()

	h, err := l.Launch(context.Background(), "archive/alice/archive", testSpec())
	require.NoError(t, err)
	require.Equal(t, EventStarted, (<-h.Events()).Type)

	start := time.Now()
	h.Terminate()
	events := collect(t, h)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.Equal(t, model.CauseKilled, events[len(events)-1].Cause)
}

func TestExecLauncher_SpawnFailure(t *testing.T) {
	l := newTestLauncher(filepath.Join(t.TempDir(), "missing-ffmpeg"))
	_, err := l.Launch(context.Background(), "relay/alice", testSpec())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrSpawnFailure))
}

func TestExecLauncher_InvalidSpec(t *testing.T) {
	_, err := newTestLauncher("ffmpeg").Launch(context.Background(), "x", Spec{})
	assert.ErrorIs(t, err, model.ErrInvalidTarget)
}

func TestExecRunner(t *testing.T) {
	out, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))

	_, err = ExecRunner{}.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = ExecRunner{}.Run(ctx, "sleep", "10")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
