// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the media server configuration from defaults, an
// optional YAML file and BMS_* environment variables, in that order.
package config

import "time"

// Config is the effective server configuration.
type Config struct {
	LogLevel   string `yaml:"logLevel"`
	ListenAddr string `yaml:"listenAddr"`
	// CDNHost serves playback URLs and previews.
	CDNHost string `yaml:"cdnHost"`

	Ingest    IngestConfig    `yaml:"ingest"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg"`
	Relay     RelayConfig     `yaml:"relay"`
	Pipelines PipelineConfig  `yaml:"pipelines"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Redis     RedisConfig     `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	Notify    NotifyConfig    `yaml:"notify"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`

	Version string `yaml:"-"`
}

// IngestConfig locates the nginx-rtmp ingest.
type IngestConfig struct {
	Host            string        `yaml:"host"`
	ControlURL      string        `yaml:"controlUrl"`
	LiveStatusDelay time.Duration `yaml:"liveStatusDelay"`
}

type FFmpegConfig struct {
	Path      string `yaml:"path"`
	ProbePath string `yaml:"probePath"`
	// CaptureKillGrace is the SIGTERM grace given to archive captures on
	// stop. Every other pipeline is killed with SIGKILL at once.
	CaptureKillGrace time.Duration `yaml:"captureKillGrace"`
}

type RelayConfig struct {
	ProbeTimeout     time.Duration `yaml:"probeTimeout"`
	MaxBitrateKbps   int           `yaml:"maxBitrateKbps"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
	PreviewDir       string        `yaml:"previewDir"`
}

type PipelineConfig struct {
	StopEscalation time.Duration `yaml:"stopEscalation"`
	UpdateInterval time.Duration `yaml:"updateInterval"`
}

type ArchiveConfig struct {
	Mode                string        `yaml:"mode"`
	Dir                 string        `yaml:"dir"`
	Retries             int           `yaml:"retries"`
	RetryDelay          time.Duration `yaml:"retryDelay"`
	ThumbnailCount      int           `yaml:"thumbnailCount"`
	StartConfirmTimeout time.Duration `yaml:"startConfirmTimeout"`
	Service             string        `yaml:"service"`
}

// RedisConfig enables the Redis credential store when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig selects S3 when a bucket is set and LocalDir otherwise.
type StorageConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	PublicBaseURL   string `yaml:"publicBaseUrl"`
	PublicRead      bool   `yaml:"publicRead"`
	LocalDir        string `yaml:"localDir"`
}

type NotifyConfig struct {
	URL    string `yaml:"url"`
	Server string `yaml:"server"`
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		LogLevel:   "info",
		ListenAddr: ":3000",
		CDNHost:    "cdn.stream.bitwave.tv",
		Ingest: IngestConfig{
			Host:            "nginx-server",
			ControlURL:      "http://nginx-server:8080",
			LiveStatusDelay: 10 * time.Second,
		},
		FFmpeg: FFmpegConfig{
			Path:      "ffmpeg",
			ProbePath: "ffprobe",
		},
		Relay: RelayConfig{
			ProbeTimeout:     15 * time.Second,
			MaxBitrateKbps:   0,
			SnapshotInterval: 60 * time.Second,
			PreviewDir:       "/var/lib/bms/preview",
		},
		Pipelines: PipelineConfig{
			StopEscalation: 10 * time.Second,
			UpdateInterval: 5 * time.Second,
		},
		Archive: ArchiveConfig{
			Mode:                "native",
			Dir:                 "/var/lib/bms/archives",
			Retries:             5,
			RetryDelay:          10 * time.Second,
			ThumbnailCount:      10,
			StartConfirmTimeout: 10 * time.Second,
			Service:             "bitwave",
		},
		Storage: StorageConfig{
			Region:   "us-east-1",
			LocalDir: "/var/lib/bms/replay",
		},
		Notify: NotifyConfig{
			Server: "stream.bitwave.tv",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
		},
	}
}
