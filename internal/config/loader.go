// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownConfigField classifies strict YAML parse failures caused by unknown keys.
var ErrUnknownConfigField = errors.New("unknown config field")

// EnvPrefix is the prefix of every configuration environment variable.
const EnvPrefix = "BMS_"

// Loader applies defaults, file and environment in that order.
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader. configPath may be empty.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(dst *string, key string) {
	l.ConsumedEnvKeys[key] = struct{}{}
	*dst = ParseString(key, *dst)
}

func (l *Loader) envInt(dst *int, key string) {
	l.ConsumedEnvKeys[key] = struct{}{}
	*dst = ParseInt(key, *dst)
}

func (l *Loader) envBool(dst *bool, key string) {
	l.ConsumedEnvKeys[key] = struct{}{}
	*dst = ParseBool(key, *dst)
}

func (l *Loader) envDuration(dst *time.Duration, key string) {
	l.ConsumedEnvKeys[key] = struct{}{}
	*dst = ParseDuration(key, *dst)
}

// Load returns the validated configuration.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	l.mergeEnv(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes path over cfg. Unknown keys are rejected.
func (l *Loader) loadFile(path string, cfg *Config) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("parse: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *Config) {
	l.envString(&cfg.LogLevel, "BMS_LOG_LEVEL")
	l.envString(&cfg.ListenAddr, "BMS_LISTEN_ADDR")
	l.envString(&cfg.CDNHost, "BMS_CDN")

	l.envString(&cfg.Ingest.Host, "BMS_INGEST_HOST")
	l.envString(&cfg.Ingest.ControlURL, "BMS_INGEST_CONTROL_URL")
	l.envDuration(&cfg.Ingest.LiveStatusDelay, "BMS_LIVE_STATUS_DELAY")

	l.envString(&cfg.FFmpeg.Path, "BMS_FFMPEG_PATH")
	l.envString(&cfg.FFmpeg.ProbePath, "BMS_FFPROBE_PATH")
	l.envDuration(&cfg.FFmpeg.CaptureKillGrace, "BMS_FFMPEG_CAPTURE_KILL_GRACE")

	l.envDuration(&cfg.Relay.ProbeTimeout, "BMS_PROBE_TIMEOUT")
	l.envInt(&cfg.Relay.MaxBitrateKbps, "BMS_MAX_BITRATE_KBPS")
	l.envDuration(&cfg.Relay.SnapshotInterval, "BMS_SNAPSHOT_INTERVAL")
	l.envString(&cfg.Relay.PreviewDir, "BMS_PREVIEW_DIR")

	l.envDuration(&cfg.Pipelines.StopEscalation, "BMS_STOP_ESCALATION")
	l.envDuration(&cfg.Pipelines.UpdateInterval, "BMS_UPDATE_INTERVAL")

	l.envString(&cfg.Archive.Mode, "BMS_ARCHIVE_MODE")
	l.envString(&cfg.Archive.Dir, "BMS_ARCHIVE_DIR")
	l.envInt(&cfg.Archive.Retries, "BMS_ARCHIVE_RETRIES")
	l.envDuration(&cfg.Archive.RetryDelay, "BMS_ARCHIVE_RETRY_DELAY")
	l.envInt(&cfg.Archive.ThumbnailCount, "BMS_THUMBNAIL_COUNT")
	l.envDuration(&cfg.Archive.StartConfirmTimeout, "BMS_ARCHIVE_START_TIMEOUT")
	l.envString(&cfg.Archive.Service, "BMS_ARCHIVE_SERVICE")

	l.envString(&cfg.Redis.Addr, "BMS_REDIS_ADDR")
	l.envString(&cfg.Redis.Password, "BMS_REDIS_PASSWORD")
	l.envInt(&cfg.Redis.DB, "BMS_REDIS_DB")

	l.envString(&cfg.Storage.Endpoint, "BMS_S3_ENDPOINT")
	l.envString(&cfg.Storage.Region, "BMS_S3_REGION")
	l.envString(&cfg.Storage.Bucket, "BMS_S3_BUCKET")
	l.envString(&cfg.Storage.AccessKeyID, "BMS_S3_ACCESS_KEY_ID")
	l.envString(&cfg.Storage.SecretAccessKey, "BMS_S3_SECRET_ACCESS_KEY")
	l.envString(&cfg.Storage.PublicBaseURL, "BMS_S3_PUBLIC_URL")
	l.envBool(&cfg.Storage.PublicRead, "BMS_S3_PUBLIC_READ")
	l.envString(&cfg.Storage.LocalDir, "BMS_STORAGE_DIR")

	l.envString(&cfg.Notify.URL, "BMS_NOTIFY_URL")
	l.envString(&cfg.Notify.Server, "BMS_SERVER")

	l.envBool(&cfg.RateLimit.Enabled, "BMS_RATE_LIMIT_ENABLED")
	l.envInt(&cfg.RateLimit.RequestsPerMinute, "BMS_RATE_LIMIT_RPM")
}

// UnknownEnvKeys lists BMS_* variables set in env that the loader never
// read, which usually means a typo.
func (l *Loader) UnknownEnvKeys(env []string) []string {
	var out []string
	for _, kv := range env {
		k, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		if _, ok := l.ConsumedEnvKeys[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
