// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgs_OrderPreserved(t *testing.T) {
	spec := Spec{
		Input: InputSpec{URL: "rtmp://ingest/live/alice", Options: []string{"-re", "-err_detect", "ignore_err"}},
		Outputs: []OutputSpec{
			{Target: "rtmp://ingest/transcode/alice_144", Options: []string{"-c:v", "libx264", "-s", "256x144"}},
			{Target: "rtmp://ingest/transcode/alice_src", Options: []string{"-c", "copy"}},
		},
	}

	args, err := BuildArgs(spec)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-progress", "pipe:1",
		"-re", "-err_detect", "ignore_err",
		"-i", "rtmp://ingest/live/alice",
		"-c:v", "libx264", "-s", "256x144", "rtmp://ingest/transcode/alice_144",
		"-c", "copy", "rtmp://ingest/transcode/alice_src",
	}, args)
}

func TestBuildArgs_Invalid(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"no input", Spec{Outputs: []OutputSpec{{Target: "x"}}}},
		{"no outputs", Spec{Input: InputSpec{URL: "in"}}},
		{"too many outputs", Spec{Input: InputSpec{URL: "in"}, Outputs: []OutputSpec{{Target: "a"}, {Target: "b"}, {Target: "c"}, {Target: "d"}}}},
		{"empty target", Spec{Input: InputSpec{URL: "in"}, Outputs: []OutputSpec{{Target: " "}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildArgs(tt.spec)
			assert.ErrorIs(t, err, errInvalidSpec)
		})
	}
}
