// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "errors"

var (
	ErrAlreadyActive    = errors.New("pipeline already active")
	ErrNotRunning       = errors.New("pipeline not running")
	ErrProbeFailed      = errors.New("input probe failed")
	ErrProbeTimeout     = errors.New("input probe timed out")
	ErrBitrateTooHigh   = errors.New("input bitrate too high")
	ErrSpawnFailure     = errors.New("pipeline spawn failed")
	ErrRuntimeFailure   = errors.New("pipeline exited with error")
	ErrKilledByOperator = errors.New("pipeline killed by operator")
	ErrStageFailure     = errors.New("archive stage failed")
	ErrRetryExhausted   = errors.New("retry attempts exhausted")
	ErrInvalidTarget    = errors.New("invalid pipeline target")
)

// CauseError maps a failure cause onto its sentinel error.
func CauseError(c Cause) error {
	switch c {
	case CauseKilled:
		return ErrKilledByOperator
	case CauseSpawn:
		return ErrSpawnFailure
	case CauseRuntime:
		return ErrRuntimeFailure
	}
	return nil
}
