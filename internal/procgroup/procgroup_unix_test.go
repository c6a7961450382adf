// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKill_WholeGroup(t *testing.T) {
	cmd := exec.Command("sh", "-c", "sleep 10 & sleep 10")
	Set(cmd)
	require.NoError(t, cmd.Start())

	pid := cmd.Process.Pid
	time.Sleep(100 * time.Millisecond)

	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, pgid, "process should be group leader")

	require.NoError(t, Kill(cmd, syscall.SIGKILL))

	err = cmd.Wait()
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "expected exit error, got %v", err)

	// Orphaned background sleep must be gone too.
	require.Eventually(t, func() bool {
		return errors.Is(syscall.Kill(-pgid, 0), syscall.ESRCH)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestKill_NilAndExited(t *testing.T) {
	assert.NoError(t, Kill(nil, syscall.SIGKILL))
	assert.NoError(t, Kill(&exec.Cmd{}, syscall.SIGKILL))

	cmd := exec.Command("true")
	Set(cmd)
	require.NoError(t, cmd.Run())
	assert.NoError(t, Kill(cmd, syscall.SIGKILL))
}

func TestTerminate_GracefulExit(t *testing.T) {
	cmd := exec.Command("sleep", "10")
	Set(cmd)
	require.NoError(t, cmd.Start())

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	start := time.Now()
	err := Terminate(cmd, waitCh, 5*time.Second)
	require.Error(t, err, "sleep killed by SIGTERM exits non-zero")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTerminate_EscalatesToKill(t *testing.T) {
	cmd := exec.Command("sh", "-c", "trap '' TERM; sleep 10")
	Set(cmd)
	require.NoError(t, cmd.Start())
	time.Sleep(100 * time.Millisecond)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	start := time.Now()
	err := Terminate(cmd, waitCh, 200*time.Millisecond)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestForceKill_IgnoresTermTrap(t *testing.T) {
	cmd := exec.Command("sh", "-c", "trap '' TERM; sleep 10")
	Set(cmd)
	require.NoError(t, cmd.Start())
	time.Sleep(100 * time.Millisecond)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	start := time.Now()
	require.Error(t, ForceKill(cmd, waitCh))
	assert.Less(t, time.Since(start), time.Second)
	assert.NoError(t, ForceKill(nil, waitCh))
}
