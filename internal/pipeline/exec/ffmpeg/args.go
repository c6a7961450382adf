// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"errors"
	"fmt"
	"strings"
)

// MaxOutputs bounds the fan-out of a single pipeline.
const MaxOutputs = 3

// InputSpec defines the source stream parameters.
type InputSpec struct {
	URL     string
	Options []string // placed before -i, in order
}

// OutputSpec defines one destination and the options that apply to it only.
type OutputSpec struct {
	Target  string
	Options []string
}

// Spec is a single-input, multi-output ffmpeg invocation.
type Spec struct {
	Input   InputSpec
	Outputs []OutputSpec
}

var errInvalidSpec = errors.New("invalid ffmpeg spec")

// Validate checks the structural shape of a spec.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Input.URL) == "" {
		return fmt.Errorf("%w: missing input", errInvalidSpec)
	}
	if len(s.Outputs) == 0 || len(s.Outputs) > MaxOutputs {
		return fmt.Errorf("%w: need 1-%d outputs, got %d", errInvalidSpec, MaxOutputs, len(s.Outputs))
	}
	for i, o := range s.Outputs {
		if strings.TrimSpace(o.Target) == "" {
			return fmt.Errorf("%w: output %d has no target", errInvalidSpec, i)
		}
	}
	return nil
}

// Targets lists output targets in order.
func (s Spec) Targets() []string {
	out := make([]string, 0, len(s.Outputs))
	for _, o := range s.Outputs {
		out = append(out, o.Target)
	}
	return out
}

// BuildArgs constructs the ffmpeg argv for a spec. Progress is written to
// stdout in key=value blocks; stderr carries diagnostics only.
func BuildArgs(s Spec) ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-progress", "pipe:1",
	}
	args = append(args, s.Input.Options...)
	args = append(args, "-i", s.Input.URL)

	for _, o := range s.Outputs {
		args = append(args, o.Options...)
		args = append(args, o.Target)
	}
	return args, nil
}
