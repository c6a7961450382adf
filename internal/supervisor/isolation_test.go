// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitwave-tv/bitwave-media-server/internal/credstore"
	"github.com/bitwave-tv/bitwave-media-server/internal/notify"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/exec/ffmpeg/ffmpegtest"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
)

type getter interface {
	Get(user string) (model.RecordView, bool)
}

func requireActive(t *testing.T, g getter, user string) {
	t.Helper()
	require.Eventually(t, func() bool {
		v, ok := g.Get(user)
		return ok && v.State == model.StateActive
	}, waitFor, tick)
}

func TestKindsAreIsolatedPerUser(t *testing.T) {
	ctx := context.Background()
	store := credstore.NewMemoryStore(credstore.URLs{})

	relayL := ffmpegtest.NewLauncher()
	relayL.HoldOnTerminate = true
	opts := testOptions(&notify.Recorder{})
	opts.StopEscalation = 30 * time.Millisecond
	relay := NewRelay(RelayConfig{IngestHost: "localhost"}, relayL, nil, nil, opts)

	otherL := ffmpegtest.NewLauncher()
	tr := NewTranscoder(TranscoderConfig{IngestHost: "localhost"}, otherL, store, testOptions(&notify.Recorder{}))
	rs := NewRestreamer(RestreamerConfig{IngestHost: "localhost"}, otherL, store, testOptions(&notify.Recorder{}))

	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		assert.NoError(t, relay.StopAll(sctx))
		assert.NoError(t, tr.StopAll(sctx))
		assert.NoError(t, rs.StopAll(sctx))
	})

	_, err := relay.Start(ctx, "bob")
	require.NoError(t, err)
	oldRelay := <-relayL.Launched()
	_, err = tr.Start(ctx, "bob", true, true)
	require.NoError(t, err)
	_, err = rs.Start(ctx, "bob", "rtmp://live.twitch.tv/app", "k")
	require.NoError(t, err)

	requireActive(t, relay, "bob")
	requireActive(t, tr, "bob")
	requireActive(t, rs, "bob")

	ok, err := relay.Stop(ctx, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	<-oldRelay.Terminated()
	require.Eventually(t, func() bool { return !relay.IsActive("bob") }, waitFor, tick)

	requireActive(t, tr, "bob")
	requireActive(t, rs, "bob")

	// A new relay generation must survive the late exit of the old process.
	_, err = relay.Start(ctx, "bob")
	require.NoError(t, err)
	newRelay := <-relayL.Launched()
	requireActive(t, relay, "bob")

	oldRelay.End()
	assert.Never(t, func() bool { return !relay.IsActive("bob") }, 100*time.Millisecond, tick)

	for _, g := range []getter{relay, tr, rs} {
		v, ok := g.Get("BOB")
		require.True(t, ok)
		assert.Equal(t, model.StateActive, v.State)
	}

	newRelay.End()
	require.Eventually(t, func() bool { return !relay.IsActive("bob") }, waitFor, tick)
}
