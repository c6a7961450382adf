// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package probe extracts media facts from a file or live URL with ffprobe.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/exec/ffmpeg"
)

// ErrNoStreams is returned when ffprobe reports no audio or video stream.
var ErrNoStreams = errors.New("probe: no media streams")

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeStream struct {
	Index      int    `json:"index"`
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Profile    string `json:"profile,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	PixFmt     string `json:"pix_fmt,omitempty"`
	FrameRate  string `json:"r_frame_rate,omitempty"`
	AvgRate    string `json:"avg_frame_rate,omitempty"`
	BitRate    string `json:"bit_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	SampleRate string `json:"sample_rate,omitempty"`
}

// Format describes the container.
type Format struct {
	Name            string  `json:"name"`
	DurationSeconds float64 `json:"duration"`
	SizeBytes       int64   `json:"size"`
	BitrateKbps     float64 `json:"bitrate"`
}

// VideoStream describes one video track.
type VideoStream struct {
	Index       int     `json:"index"`
	Codec       string  `json:"codec"`
	Profile     string  `json:"profile,omitempty"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FPS         float64 `json:"fps"`
	PixFmt      string  `json:"pix_fmt,omitempty"`
	BitrateKbps float64 `json:"bitrate"`
}

// Resolution renders WxH.
func (v VideoStream) Resolution() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// AudioStream describes one audio track.
type AudioStream struct {
	Index       int     `json:"index"`
	Codec       string  `json:"codec"`
	SampleRate  int     `json:"sample_rate"`
	Channels    int     `json:"channels"`
	BitrateKbps float64 `json:"bitrate"`
}

// MediaInfo is the parsed result of a probe.
type MediaInfo struct {
	Format Format        `json:"format"`
	Video  []VideoStream `json:"video,omitempty"`
	Audio  []AudioStream `json:"audio,omitempty"`
}

// Empty reports whether no stream facts are known.
func (m MediaInfo) Empty() bool {
	return len(m.Video) == 0 && len(m.Audio) == 0
}

// BitrateKbps returns the container bitrate, falling back to the sum of the
// stream bitrates when the container does not report one.
func (m MediaInfo) BitrateKbps() float64 {
	if m.Format.BitrateKbps > 0 {
		return m.Format.BitrateKbps
	}
	var sum float64
	for _, v := range m.Video {
		sum += v.BitrateKbps
	}
	for _, a := range m.Audio {
		sum += a.BitrateKbps
	}
	return sum
}

// Parse converts ffprobe JSON into MediaInfo.
func Parse(data []byte) (MediaInfo, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return MediaInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := MediaInfo{
		Format: Format{
			Name:            strings.Split(out.Format.FormatName, ",")[0],
			DurationSeconds: parseFloat(out.Format.Duration),
			SizeBytes:       int64(parseFloat(out.Format.Size)),
			BitrateKbps:     parseFloat(out.Format.BitRate) / 1000,
		},
	}

	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			fps := parseRate(s.AvgRate)
			if fps == 0 {
				fps = parseRate(s.FrameRate)
			}
			info.Video = append(info.Video, VideoStream{
				Index:       s.Index,
				Codec:       s.CodecName,
				Profile:     s.Profile,
				Width:       s.Width,
				Height:      s.Height,
				FPS:         fps,
				PixFmt:      s.PixFmt,
				BitrateKbps: parseFloat(s.BitRate) / 1000,
			})
		case "audio":
			info.Audio = append(info.Audio, AudioStream{
				Index:       s.Index,
				Codec:       s.CodecName,
				SampleRate:  int(parseFloat(s.SampleRate)),
				Channels:    s.Channels,
				BitrateKbps: parseFloat(s.BitRate) / 1000,
			})
		}
	}
	return info, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseRate parses ffprobe rationals like "30000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseFloat(s)
	}
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return parseFloat(num) / d
}

// Prober runs ffprobe through a command runner.
type Prober struct {
	BinPath string
	Runner  ffmpeg.Runner
}

// New creates a prober for binPath (defaults to "ffprobe").
func New(binPath string, runner ffmpeg.Runner) *Prober {
	if binPath == "" {
		binPath = "ffprobe"
	}
	if runner == nil {
		runner = ffmpeg.ExecRunner{}
	}
	return &Prober{BinPath: binPath, Runner: runner}
}

// Args returns the ffprobe argv for input.
func Args(input string) []string {
	return []string{"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", input}
}

// Probe inspects input. The caller bounds it with ctx.
func (p *Prober) Probe(ctx context.Context, input string) (MediaInfo, error) {
	data, err := p.Runner.Run(ctx, p.BinPath, Args(input)...)
	if err != nil {
		return MediaInfo{}, fmt.Errorf("ffprobe %s: %w", input, err)
	}
	info, err := Parse(data)
	if err != nil {
		return MediaInfo{}, err
	}
	if info.Empty() {
		return info, fmt.Errorf("%w: %s", ErrNoStreams, input)
	}
	return info, nil
}
