// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/bitwave-tv/bitwave-media-server/internal/config"
	"github.com/bitwave-tv/bitwave-media-server/internal/log"
)

// PerformStartupChecks prepares the working directories and verifies the
// ffmpeg tools exist before the server accepts publishes.
func PerformStartupChecks(_ context.Context, cfg config.Config) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running startup checks")

	var errs []error
	dirs := map[string]string{"relay.previewDir": cfg.Relay.PreviewDir}
	if cfg.Archive.Mode == "native" {
		dirs["archive.dir"] = cfg.Archive.Dir
	}
	if cfg.Storage.Bucket == "" {
		dirs["storage.localDir"] = cfg.Storage.LocalDir
	}
	for field, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			continue
		}
		if err := writable(dir); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	for _, bin := range []string{cfg.FFmpeg.Path, cfg.FFmpeg.ProbePath} {
		if _, err := exec.LookPath(bin); err != nil {
			errs = append(errs, fmt.Errorf("binary %q: %w", bin, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.Info().Msg("startup checks passed")
	return nil
}
