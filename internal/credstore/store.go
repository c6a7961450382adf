// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package credstore holds per-streamer credentials and the public status
// fields the media server writes back: live flag, playback URLs, transcode
// flag, archive records and restream state.
package credstore

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bitwave-tv/bitwave-media-server/internal/media/probe"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
)

var (
	// ErrUnknownUser is returned when no credentials exist for a streamer.
	ErrUnknownUser = errors.New("credstore: unknown user")
	// ErrUnknownRestream is returned for an unknown restream ID.
	ErrUnknownRestream = errors.New("credstore: unknown restream")
)

// Store is the collaborator the control plane reads credentials from and
// writes stream status to.
type Store interface {
	CheckStreamKey(ctx context.Context, user, key string) (bool, error)
	CheckArchiveEnabled(ctx context.Context, user string) (bool, error)
	SetLiveStatus(ctx context.Context, user string, live bool) error
	// SetTranscodeStatus records whether user is transcoded. variant names
	// the CDN application serving the ladder; empty means DefaultVariant.
	SetTranscodeStatus(ctx context.Context, user string, transcoded bool, variant string) error
	SaveArchiveRecord(ctx context.Context, rec ArchiveRecord) (string, error)
	CreateRestream(ctx context.Context, user, server string) (string, error)
	SetRestreamState(ctx context.Context, id string, state model.State) error
}

// ArchiveRecord is the persisted description of a finished archive.
type ArchiveRecord struct {
	ID              string          `json:"id"`
	User            string          `json:"user"`
	Key             string          `json:"key"`
	Location        string          `json:"file_location"`
	Type            string          `json:"file_type"`
	DurationSeconds float64         `json:"file_duration"`
	SizeBytes       int64           `json:"file_size"`
	Thumbnails      []string        `json:"thumbnails"`
	Service         string          `json:"service"`
	MediaInfo       probe.MediaInfo `json:"ffprobe"`
	UploadError     string          `json:"upload_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Streamer is the public status of one channel.
type Streamer struct {
	Name         string    `json:"name"`
	Live         bool      `json:"live"`
	URL          string    `json:"url,omitempty"`
	Thumbnail    string    `json:"thumbnail,omitempty"`
	Transcoded   bool      `json:"transcoded"`
	TranscodeURL string    `json:"transcode_url,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Restream is the externally visible state of a restream.
type Restream struct {
	ID        string      `json:"id"`
	User      string      `json:"user"`
	Server    string      `json:"server"`
	State     model.State `json:"state"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// URLs builds public playback URLs on the CDN host.
type URLs struct {
	CDNHost string
}

func (u URLs) base() string {
	h := strings.TrimRight(u.CDNHost, "/")
	if !strings.Contains(h, "://") {
		h = "https://" + h
	}
	return h
}

// HLS is the relay playlist URL.
func (u URLs) HLS(user string) string {
	return fmt.Sprintf("%s/hls/%s/index.m3u8", u.base(), user)
}

// DefaultVariant is the CDN application of the in-process transcoder.
const DefaultVariant = "transcode"

// Transcode is the adaptive playlist URL served from variant.
func (u URLs) Transcode(user, variant string) string {
	if variant == "" {
		variant = DefaultVariant
	}
	return fmt.Sprintf("%s/%s/%s.m3u8", u.base(), variant, user)
}

// Preview is the snapshot image URL.
func (u URLs) Preview(user string) string {
	return fmt.Sprintf("%s/preview/%s.png", u.base(), user)
}

func normalize(user string) string {
	return strings.ToLower(strings.TrimSpace(user))
}

func keysEqual(stored, given string) bool {
	if stored == "" || given == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}
