// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bitwave-tv/bitwave-media-server/internal/config"
	"github.com/bitwave-tv/bitwave-media-server/internal/daemon"
	"github.com/bitwave-tv/bitwave-media-server/internal/health"
	"github.com/bitwave-tv/bitwave-media-server/internal/log"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

// configPathEnv names the config file when --config is absent.
const configPathEnv = "BMS_CONFIG"

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	log.Configure(log.Config{Level: "info", Version: version})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(configPathEnv))
	}

	// Precedence: ENV > File > Defaults
	loader := config.NewLoader(path, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().Err(err).Str(log.FieldEvent, "config.load_failed").Str(log.FieldPath, path).
			Msg("failed to load configuration")
	}
	log.SetLevel(cfg.LogLevel)

	for _, k := range loader.UnknownEnvKeys(os.Environ()) {
		if k != configPathEnv {
			logger.Warn().Str("key", k).Msg("ignoring unknown environment variable")
		}
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Str(log.FieldEvent, "startup.check_failed").
			Msg("startup checks failed; verify configuration and permissions")
	}

	logger.Info().
		Str(log.FieldEvent, "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.ListenAddr).
		Msg("starting bitwave media server")
	logger.Info().Msgf("→ Ingest: %s (control %s)", cfg.Ingest.Host, maskURL(cfg.Ingest.ControlURL))
	logger.Info().Msgf("→ Archive: %s mode, dir %s", cfg.Archive.Mode, cfg.Archive.Dir)
	if cfg.Notify.URL != "" {
		logger.Info().Msgf("→ Notifier: %s", maskURL(cfg.Notify.URL))
	}
	logger.Debug().Str("config", cfg.String()).Msg("effective configuration")

	svc, err := buildService(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str(log.FieldEvent, "wiring.failed").Msg("failed to build services")
	}

	mgr, err := daemon.NewManager(daemon.DefaultServerConfig(cfg.ListenAddr), svc.handler, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create daemon manager")
	}
	for _, h := range svc.hooks {
		mgr.RegisterShutdownHook(h.name, h.fn)
	}

	if err := mgr.Start(ctx); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "daemon.failed").Msg("daemon stopped with errors")
		os.Exit(1)
	}
	logger.Info().Msg("server exiting")
}
