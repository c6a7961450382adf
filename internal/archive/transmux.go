// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bitwave-tv/bitwave-media-server/internal/log"
	"github.com/bitwave-tv/bitwave-media-server/internal/media/probe"
	"github.com/bitwave-tv/bitwave-media-server/internal/metrics"
	"github.com/bitwave-tv/bitwave-media-server/internal/objectstore"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/exec/ffmpeg"
)

// Result types. A raw result is the untouched capture; a distributable
// one is the seekable mp4.
const (
	TypeRaw           = "raw"
	TypeDistributable = "distributable"
)

// FileType is the container stored on archive records for a result type.
func FileType(resultType string) string {
	if resultType == TypeDistributable {
		return "mp4"
	}
	return "flv"
}

// Stage names used in logs and metrics.
const (
	StageConvert   = "convert"
	StageProbe     = "probe"
	StageThumbnail = "thumbnail"
	StageCleanup   = "cleanup"
	StageUpload    = "upload"
)

const defaultThumbnailCount = 10

// Prober inspects a finished recording.
type Prober interface {
	Probe(ctx context.Context, input string) (probe.MediaInfo, error)
}

// Uploader moves finished files to durable storage.
type Uploader interface {
	Upload(ctx context.Context, file, category string) (objectstore.Object, error)
	UploadThumbnail(ctx context.Context, file, category string) (objectstore.Object, error)
}

// Result describes a transmuxed archive. A degraded result points at the
// raw capture with no duration and no thumbnails.
type Result struct {
	Type            string
	File            string
	Channel         string
	Service         string
	DurationSeconds float64
	SizeBytes       int64
	Thumbnails      []string
	MediaInfo       probe.MediaInfo
	Key             string
	Location        string
	UploadErr       error
}

// Degraded reports whether the result is the untouched raw capture.
func (r Result) Degraded() bool { return r.Type == TypeRaw }

// ThumbnailTimestamps spreads n frames over duration seconds, from 5% to
// 95%. A single frame is taken at the midpoint.
func ThumbnailTimestamps(duration float64, n int) []float64 {
	if n <= 0 || duration <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{duration * 0.5}
	}
	out := make([]float64, n)
	for i := range n {
		pct := 5 + float64(i)*90/float64(n-1)
		out[i] = duration * pct / 100
	}
	return out
}

// Transmuxer turns a raw capture into a seekable mp4 with thumbnails and
// hands it to storage.
type Transmuxer struct {
	FFmpegPath     string
	Service        string
	ThumbnailCount int
	Runner         ffmpeg.Runner
	Prober         Prober
	Store          Uploader // nil keeps results on local disk
	Logger         zerolog.Logger
}

func (t *Transmuxer) ffmpegPath() string {
	if t.FFmpegPath == "" {
		return "ffmpeg"
	}
	return t.FFmpegPath
}

func (t *Transmuxer) thumbnailCount() int {
	if t.ThumbnailCount <= 0 {
		return defaultThumbnailCount
	}
	return t.ThumbnailCount
}

// Transmux runs every stage for file. It never returns an error: stage
// failures degrade the result instead, so the raw recording is never lost.
func (t *Transmuxer) Transmux(ctx context.Context, file, channel string) Result {
	begin := time.Now()
	logger := log.WithContext(ctx, t.Logger.With().Str(log.FieldPath, file).Str(log.FieldUser, channel).Logger())
	raw := Result{Type: TypeRaw, File: file, Channel: channel, Service: t.Service, Thumbnails: []string{}}

	res, ok := t.convert(ctx, logger, file)
	if !ok {
		metrics.ObserveArchive(TypeRaw, time.Since(begin))
		return raw
	}

	info, err := t.Prober.Probe(ctx, res.File)
	if err != nil {
		t.stageFailed(logger, StageProbe, err)
		t.remove(logger, res.File)
		metrics.ObserveArchive(TypeRaw, time.Since(begin))
		return raw
	}
	res.Channel = channel
	res.Service = t.Service
	res.MediaInfo = info
	res.DurationSeconds = info.Format.DurationSeconds
	res.SizeBytes = info.Format.SizeBytes
	if res.SizeBytes == 0 {
		if st, err := os.Stat(res.File); err == nil {
			res.SizeBytes = st.Size()
		}
	}
	logger.Info().Float64(log.FieldDuration, res.DurationSeconds).Int64("size", res.SizeBytes).Msg("probed archive")

	thumbs := t.thumbnails(ctx, logger, res.File, res.DurationSeconds)

	t.remove(logger, file)

	if t.Store == nil {
		res.Thumbnails = append([]string{}, thumbs...)
		res.Location = res.File
		metrics.ObserveArchive(res.Type, time.Since(begin))
		return res
	}

	res.Thumbnails = make([]string, 0, len(thumbs))
	for _, th := range thumbs {
		obj, err := t.Store.UploadThumbnail(ctx, th, channel)
		if err != nil {
			logger.Warn().Err(err).Str(log.FieldPath, th).Msg("thumbnail upload failed")
			continue
		}
		res.Thumbnails = append(res.Thumbnails, obj.Location)
	}

	obj, err := t.Store.Upload(ctx, res.File, channel)
	if err != nil {
		t.stageFailed(logger, StageUpload, err)
		res.UploadErr = err
		res.Location = res.File
		metrics.ObserveArchive(res.Type, time.Since(begin))
		return res
	}
	res.Key = obj.Key
	res.Location = obj.Location
	logger.Info().Str(log.FieldKey, obj.Key).Str("location", obj.Location).Msg("archive uploaded")

	t.remove(logger, res.File)
	for _, th := range thumbs {
		t.remove(logger, th)
	}

	metrics.ObserveArchive(res.Type, time.Since(begin))
	return res
}

func (t *Transmuxer) convert(ctx context.Context, logger zerolog.Logger, file string) (Result, bool) {
	out := strings.TrimSuffix(file, filepath.Ext(file)) + ".mp4"
	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-i", file,
		"-c", "copy",
		"-movflags", "+faststart",
		out,
	}
	if _, err := t.Runner.Run(ctx, t.ffmpegPath(), args...); err != nil {
		t.stageFailed(logger, StageConvert, err)
		_ = os.Remove(out)
		return Result{}, false
	}
	logger.Info().Str("output", out).Msg("converted archive to mp4")
	return Result{Type: TypeDistributable, File: out}, true
}

// thumbnails extracts one frame per timestamp. Any failure discards the
// whole set.
func (t *Transmuxer) thumbnails(ctx context.Context, logger zerolog.Logger, file string, duration float64) []string {
	stamps := ThumbnailTimestamps(duration, t.thumbnailCount())
	base := strings.TrimSuffix(file, filepath.Ext(file))

	out := make([]string, 0, len(stamps))
	for i, ts := range stamps {
		thumb := fmt.Sprintf("%s-thumb-%02d.png", base, i)
		args := []string{
			"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
			"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
			"-i", file,
			"-frames:v", "1",
			"-f", "image2",
			thumb,
		}
		if _, err := t.Runner.Run(ctx, t.ffmpegPath(), args...); err != nil {
			t.stageFailed(logger, StageThumbnail, err)
			_ = os.Remove(thumb)
			for _, done := range out {
				_ = os.Remove(done)
			}
			return nil
		}
		out = append(out, thumb)
	}
	if len(out) > 0 {
		logger.Info().Int("count", len(out)).Msg("generated thumbnails")
	}
	return out
}

func (t *Transmuxer) remove(logger zerolog.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		t.stageFailed(logger, StageCleanup, err)
	}
}

func (t *Transmuxer) stageFailed(logger zerolog.Logger, stage string, err error) {
	metrics.IncArchiveStageFailure(stage)
	logger.Warn().Err(err).Str(log.FieldStage, stage).Msg("archive stage failed")
}
