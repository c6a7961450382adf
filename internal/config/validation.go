// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/bitwave-tv/bitwave-media-server/internal/validate"
)

// Validate checks the whole configuration and reports every problem.
func Validate(cfg Config) error {
	v := validate.New()

	v.LogLevel("logLevel", cfg.LogLevel)
	v.HostPort("listenAddr", cfg.ListenAddr)
	v.NotEmpty("cdnHost", cfg.CDNHost)

	v.NotEmpty("ingest.host", cfg.Ingest.Host)
	if cfg.Ingest.ControlURL != "" {
		v.URL("ingest.controlUrl", cfg.Ingest.ControlURL, "http", "https")
	}
	v.DurationRange("ingest.liveStatusDelay", cfg.Ingest.LiveStatusDelay, 0, 5*time.Minute)

	v.NotEmpty("ffmpeg.path", cfg.FFmpeg.Path)
	v.NotEmpty("ffmpeg.probePath", cfg.FFmpeg.ProbePath)

	v.DurationRange("relay.probeTimeout", cfg.Relay.ProbeTimeout, time.Second, 15*time.Second)
	v.Range("relay.maxBitrateKbps", cfg.Relay.MaxBitrateKbps, 0, 100_000)
	v.DurationRange("relay.snapshotInterval", cfg.Relay.SnapshotInterval, 5*time.Second, time.Hour)

	v.DurationRange("pipelines.stopEscalation", cfg.Pipelines.StopEscalation, time.Second, 5*time.Minute)
	v.DurationRange("pipelines.updateInterval", cfg.Pipelines.UpdateInterval, 100*time.Millisecond, time.Minute)

	v.OneOf("archive.mode", cfg.Archive.Mode, "native", "legacy")
	v.Range("archive.retries", cfg.Archive.Retries, 0, 20)
	v.DurationRange("archive.retryDelay", cfg.Archive.RetryDelay, 0, 5*time.Minute)
	v.Range("archive.thumbnailCount", cfg.Archive.ThumbnailCount, 1, 50)
	if cfg.Archive.Mode == "native" {
		v.NotEmpty("archive.dir", cfg.Archive.Dir)
	}

	if cfg.Storage.Bucket != "" {
		v.NotEmpty("storage.region", cfg.Storage.Region)
		if cfg.Storage.Endpoint != "" {
			v.URL("storage.endpoint", cfg.Storage.Endpoint, "http", "https")
		}
		if (cfg.Storage.AccessKeyID == "") != (cfg.Storage.SecretAccessKey == "") {
			v.AddError("storage.accessKeyId", "access key ID and secret must be set together", "")
		}
	}

	if cfg.Redis.Addr != "" {
		v.HostPort("redis.addr", cfg.Redis.Addr)
		v.Range("redis.db", cfg.Redis.DB, 0, 15)
	}
	if cfg.Notify.URL != "" {
		v.URL("notify.url", cfg.Notify.URL, "ws", "wss")
	}
	if cfg.RateLimit.Enabled {
		v.Range("rateLimit.requestsPerMinute", cfg.RateLimit.RequestsPerMinute, 1, 100_000)
	}

	return v.Err()
}
