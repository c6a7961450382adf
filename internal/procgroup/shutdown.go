// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/bitwave-tv/bitwave-media-server/internal/metrics"
)

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return sig.String()
	}
}

// Signal delivers sig to the command's process group and records the outcome.
func Signal(cmd *exec.Cmd, sig syscall.Signal) error {
	err := Kill(cmd, sig)
	switch {
	case err == nil:
		metrics.IncProcTerminate(signalName(sig), "sent")
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		metrics.IncProcTerminate(signalName(sig), "esrch")
		err = nil
	default:
		metrics.IncProcTerminate(signalName(sig), "error")
	}
	return err
}

// ForceKill sends SIGKILL to the group and drains waitCh.
func ForceKill(cmd *exec.Cmd, waitCh <-chan error) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = Signal(cmd, syscall.SIGKILL)
	err := <-waitCh
	if err == nil {
		metrics.IncProcWait("forced_exit0")
	} else {
		metrics.IncProcWait("forced_error")
	}
	return err
}

// Terminate sends SIGTERM, waits up to grace for waitCh, then sends SIGKILL.
// It always drains waitCh and returns the wait error. Nil commands return nil.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = Signal(cmd, syscall.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("exit0")
		} else {
			metrics.IncProcWait("exit_nonzero")
		}
		return err
	case <-timer.C:
		_ = Signal(cmd, syscall.SIGKILL)

		err := <-waitCh
		if err == nil {
			metrics.IncProcWait("forced_exit0")
		} else {
			metrics.IncProcWait("forced_error")
		}
		return err
	}
}
