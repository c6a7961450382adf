// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitwave-tv/bitwave-media-server/internal/credstore"
	"github.com/bitwave-tv/bitwave-media-server/internal/notify"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/exec/ffmpeg/ffmpegtest"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
)

func TestValidateTarget(t *testing.T) {
	tests := []struct {
		server, key string
		ok          bool
	}{
		{"rtmp://live.twitch.tv/app", "abc", true},
		{"rtmps://a.rtmp.youtube.com/live2/", "k", true},
		{"https://example.com/live", "k", false},
		{"rtmp://live.twitch.tv/app", " ", false},
		{"rtmp:///nohost", "k", false},
		{"::bad", "k", false},
	}
	for _, tt := range tests {
		err := ValidateTarget(tt.server, tt.key)
		if tt.ok {
			assert.NoError(t, err, tt.server)
		} else {
			assert.ErrorIs(t, err, model.ErrInvalidTarget, tt.server)
		}
	}
}

func TestRestreamSpec(t *testing.T) {
	spec := RestreamSpec("localhost", "alice", "rtmp://live.twitch.tv/app/", "sk_123")
	assert.Equal(t, []string{"rtmp://live.twitch.tv/app/sk_123"}, spec.Targets())
}

func TestRestreamer_InvalidTargetDoesNotReserve(t *testing.T) {
	l := ffmpegtest.NewLauncher()
	rs := NewRestreamer(RestreamerConfig{IngestHost: "localhost"}, l, nil, testOptions(&notify.Recorder{}))

	ok, err := rs.Start(context.Background(), "alice", "http://nope", "key")
	assert.False(t, ok)
	assert.ErrorIs(t, err, model.ErrInvalidTarget)
	assert.Empty(t, rs.List())
	assert.Zero(t, l.Count())
}

func TestRestreamer_StateTransitions(t *testing.T) {
	ctx := context.Background()
	l := ffmpegtest.NewLauncher()
	store := credstore.NewMemoryStore(credstore.URLs{})
	rec := &notify.Recorder{}
	rs := NewRestreamer(RestreamerConfig{IngestHost: "localhost"}, l, store, testOptions(rec))

	ok, err := rs.Start(ctx, "alice", "rtmp://live.twitch.tv/app", "secret-key")
	require.NoError(t, err)
	require.True(t, ok)

	view, ok := rs.Get("alice")
	require.True(t, ok)
	require.NotEmpty(t, view.ExternalID)
	assert.Equal(t, "rtmp://live.twitch.tv/app", view.Target)
	assert.NotContains(t, view.Target, "secret-key")
	id := view.ExternalID

	require.Eventually(t, func() bool {
		r, _ := store.Restream(ctx, id)
		return r.State == model.StateActive
	}, waitFor, tick)

	_, err = rs.Stop(ctx, "alice")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		r, _ := store.Restream(ctx, id)
		return r.State == model.StateStopped
	}, waitFor, tick)
	assert.Empty(t, rs.List())

	names := rec.Names()
	require.NotEmpty(t, names)
	assert.Equal(t, "ingestion.restreamer.connect", names[0])
	assert.Equal(t, "ingestion.restreamer.disconnect", names[len(names)-1])

	require.NoError(t, rs.StopAll(ctx))
}

func TestRestreamer_CrashMarksFailed(t *testing.T) {
	ctx := context.Background()
	l := ffmpegtest.NewLauncher()
	store := credstore.NewMemoryStore(credstore.URLs{})
	rs := NewRestreamer(RestreamerConfig{IngestHost: "localhost"}, l, store, testOptions(&notify.Recorder{}))

	_, err := rs.Start(ctx, "bob", "rtmp://remote/app", "k")
	require.NoError(t, err)
	p := <-l.Launched()
	view, _ := rs.Get("bob")

	require.Eventually(t, func() bool {
		r, _ := store.Restream(ctx, view.ExternalID)
		return r.State == model.StateActive
	}, waitFor, tick)
	p.Crash(assert.AnError)

	require.Eventually(t, func() bool {
		r, _ := store.Restream(ctx, view.ExternalID)
		return r.State == model.StateFailed
	}, waitFor, tick)
	require.NoError(t, rs.StopAll(ctx))
}
