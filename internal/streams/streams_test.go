// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package streams

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bitwave-tv/bitwave-media-server/internal/credstore"
	"github.com/bitwave-tv/bitwave-media-server/internal/media/probe"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type gatedProber struct {
	calls atomic.Int32
	gate  chan struct{}
	info  probe.MediaInfo
	err   error
}

func (g *gatedProber) Probe(ctx context.Context, _ string) (probe.MediaInfo, error) {
	g.calls.Add(1)
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return probe.MediaInfo{}, ctx.Err()
		}
	}
	return g.info, g.err
}

var info = probe.MediaInfo{
	Format: probe.Format{Name: "flv", BitrateKbps: 2500},
	Video:  []probe.VideoStream{{Codec: "h264", Width: 1280, Height: 720}},
}

func TestRegistry_AddProbeList(t *testing.T) {
	p := &gatedProber{info: info}
	r := New(Config{IngestHost: "localhost"}, p, nil, zerolog.Nop())

	r.AddStreamer(context.Background(), "Zed")
	r.AddStreamer(context.Background(), "alice")

	require.Eventually(t, func() bool {
		d, _ := r.Data("zed")
		return d.Probed
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"alice", "Zed"}, r.List())
	name, ok := r.Get("ZED")
	assert.True(t, ok)
	assert.Equal(t, "Zed", name)

	d, _ := r.Data("zed")
	assert.Equal(t, "1280x720", d.MediaInfo.Video[0].Resolution())

	require.NoError(t, r.Shutdown(context.Background()))
}

func TestRegistry_ProbeFailureKeepsEntry(t *testing.T) {
	p := &gatedProber{err: errors.New("no stream")}
	r := New(Config{}, p, nil, zerolog.Nop())

	r.AddStreamer(context.Background(), "bob")
	require.NoError(t, r.Shutdown(context.Background()))

	d, ok := r.Data("bob")
	require.True(t, ok)
	assert.False(t, d.Probed)
	assert.True(t, d.MediaInfo.Empty())
}

func TestRegistry_LateProbeForRemovedStreamerIsDropped(t *testing.T) {
	p := &gatedProber{info: info, gate: make(chan struct{})}
	r := New(Config{}, p, nil, zerolog.Nop())

	r.AddStreamer(context.Background(), "carol")
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)
	assert.True(t, r.RemoveStreamer("Carol"))
	close(p.gate)
	require.NoError(t, r.Shutdown(context.Background()))

	_, ok := r.Data("carol")
	assert.False(t, ok)
	assert.Empty(t, r.List())
}

func TestRegistry_ReAddDiscardsOlderProbe(t *testing.T) {
	p := &gatedProber{info: info, gate: make(chan struct{})}
	r := New(Config{}, p, nil, zerolog.Nop())

	r.AddStreamer(context.Background(), "dave")
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)
	r.RemoveStreamer("dave")
	r.AddStreamer(context.Background(), "Dave")
	close(p.gate)
	require.NoError(t, r.Shutdown(context.Background()))

	d, ok := r.Data("dave")
	require.True(t, ok)
	assert.Equal(t, "Dave", d.Name)
	assert.True(t, d.Probed)
}

func TestRegistry_UpdateCollapsesConcurrentProbes(t *testing.T) {
	p := &gatedProber{info: info}
	r := New(Config{}, p, nil, zerolog.Nop())
	r.AddStreamer(context.Background(), "erin")
	require.NoError(t, r.Shutdown(context.Background()))
	require.EqualValues(t, 1, p.calls.Load())

	p.gate = make(chan struct{})
	var wg sync.WaitGroup
	results := make([]bool, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.Update(context.Background(), "ERIN")
		}()
	}
	require.Eventually(t, func() bool { return p.calls.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	assert.EqualValues(t, 2, p.calls.Load())
	for _, ok := range results {
		assert.True(t, ok)
	}
	assert.False(t, r.Update(context.Background(), "unknown"))
}

func TestRegistry_ShutdownMarksOffline(t *testing.T) {
	ctx := context.Background()
	store := credstore.NewMemoryStore(credstore.URLs{})
	for _, u := range []string{"alice", "bob"} {
		require.NoError(t, store.SetLiveStatus(ctx, u, true))
	}
	r := New(Config{}, nil, store, zerolog.Nop())
	r.AddStreamer(ctx, "alice")
	r.AddStreamer(ctx, "bob")

	require.NoError(t, r.Shutdown(ctx))

	for _, u := range []string{"alice", "bob"} {
		s, ok := store.Streamer(ctx, u)
		require.True(t, ok)
		assert.False(t, s.Live, u)
	}
}

type failingStatus struct{}

func (failingStatus) SetLiveStatus(context.Context, string, bool) error {
	return errors.New("redis down")
}

func TestRegistry_ShutdownJoinsErrors(t *testing.T) {
	r := New(Config{}, nil, failingStatus{}, zerolog.Nop())
	r.AddStreamer(context.Background(), "a")
	r.AddStreamer(context.Background(), "b")

	err := r.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: redis down")
	assert.Contains(t, err.Error(), "b: redis down")
}
