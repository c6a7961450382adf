// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bitwave-tv/bitwave-media-server/internal/credstore"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
	"github.com/bitwave-tv/bitwave-media-server/internal/streams"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRelay struct {
	mu      sync.Mutex
	active  map[string]bool
	starts  int
	stops   int
	failErr error
}

func newFakeRelay() *fakeRelay { return &fakeRelay{active: map[string]bool{}} }

func (r *fakeRelay) Start(_ context.Context, user string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	if r.failErr != nil {
		return false, r.failErr
	}
	if r.active[key(user)] {
		return false, model.ErrAlreadyActive
	}
	r.active[key(user)] = true
	return true, nil
}

func (r *fakeRelay) Stop(_ context.Context, user string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active[key(user)] {
		return false, model.ErrNotRunning
	}
	r.stops++
	delete(r.active, key(user))
	return true, nil
}

func (r *fakeRelay) IsActive(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[key(user)]
}

func (r *fakeRelay) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

type fakeArchiver struct {
	mu       sync.Mutex
	calls    int
	failures int // fail this many calls first; -1 fails forever
}

func (a *fakeArchiver) StartArchive(_ context.Context, user, tag string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.failures < 0 || a.calls <= a.failures {
		return "", errors.New("ingest not ready")
	}
	return "/archives/" + user + "-" + tag + ".flv", nil
}

func (a *fakeArchiver) StopArchive(context.Context, string, string) (bool, error) {
	return false, model.ErrNotRunning
}

func (a *fakeArchiver) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fakeRecorder struct {
	mu    sync.Mutex
	users []string
}

func (r *fakeRecorder) RecordStart(_ context.Context, user, rec string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, user+"/"+rec)
	return "/tmp/rec/" + user + ".flv", nil
}

type fixture struct {
	gw       *Gateway
	store    *credstore.MemoryStore
	relay    *fakeRelay
	streams  *streams.Registry
	archiver *fakeArchiver
}

func newFixture(t *testing.T, cfg Config, archive bool) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:    credstore.NewMemoryStore(credstore.URLs{}),
		relay:    newFakeRelay(),
		streams:  streams.New(streams.Config{}, nil, nil, zerolog.Nop()),
		archiver: &fakeArchiver{},
	}
	require.NoError(t, f.store.RegisterStreamer(ctx, "Bob", "s3cret", archive))
	if cfg.LiveStatusDelay == 0 {
		cfg.LiveStatusDelay = 10 * time.Millisecond
	}
	if cfg.ArchiveRetryDelay == 0 {
		cfg.ArchiveRetryDelay = time.Millisecond
	}
	f.gw = NewGateway(cfg, Deps{
		Store:    f.store,
		Relay:    f.relay,
		Streams:  f.streams,
		Archiver: f.archiver,
	}, zerolog.Nop())
	t.Cleanup(func() {
		require.NoError(t, f.gw.Close(context.Background()))
		require.NoError(t, f.streams.Shutdown(context.Background()))
	})
	return f
}

func (f *fixture) live(user string) bool {
	s, ok := f.store.Streamer(context.Background(), user)
	return ok && s.Live
}

func TestAuthorize_InputValidation(t *testing.T) {
	f := newFixture(t, Config{}, false)
	ctx := context.Background()

	_, err := f.gw.Authorize(ctx, "", "bob", "s3cret")
	assert.ErrorIs(t, err, ErrMissingApp)

	d, err := f.gw.Authorize(ctx, "transcode", "bob", "")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonNoAuthRequired, d.Reason)

	_, err = f.gw.Authorize(ctx, LiveApp, "bob", "")
	assert.ErrorIs(t, err, ErrMissingCredentials)

	starts, _ := f.relay.counts()
	assert.Zero(t, starts)
}

func TestAuthorize_WrongKeyNeverStartsRelay(t *testing.T) {
	f := newFixture(t, Config{}, false)

	d, err := f.gw.Authorize(context.Background(), LiveApp, "bob", "wrong")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDenied, d.Reason)

	starts, _ := f.relay.counts()
	assert.Zero(t, starts)
	assert.False(t, f.gw.Pending("bob"))
}

func TestAuthorize_GoesLiveAndArchives(t *testing.T) {
	f := newFixture(t, Config{}, true)

	d, err := f.gw.Authorize(context.Background(), LiveApp, "Bob", "s3cret")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonAuthorized, d.Reason)
	assert.True(t, f.relay.IsActive("bob"))

	require.Eventually(t, func() bool { return f.live("bob") }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.archiver.Calls() == 1 }, time.Second, 5*time.Millisecond)
	_, tracked := f.streams.Get("bob")
	assert.True(t, tracked)
}

func TestAuthorize_AlreadyActiveIsDenied(t *testing.T) {
	f := newFixture(t, Config{}, false)
	f.relay.active["bob"] = true

	d, err := f.gw.Authorize(context.Background(), LiveApp, "bob", "s3cret")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonAlreadyActive, d.Reason)
	assert.ErrorIs(t, d.Err, model.ErrAlreadyActive)

	starts, _ := f.relay.counts()
	assert.Zero(t, starts)
}

func TestAuthorize_RelayFailureDenies(t *testing.T) {
	f := newFixture(t, Config{}, false)
	f.relay.failErr = model.ErrBitrateTooHigh

	d, err := f.gw.Authorize(context.Background(), LiveApp, "bob", "s3cret")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRelayFailed, d.Reason)
	assert.ErrorIs(t, d.Err, model.ErrBitrateTooHigh)
	assert.False(t, f.gw.Pending("bob"))
}

func TestAuthorize_ArchiveRetriesUntilSuccess(t *testing.T) {
	f := newFixture(t, Config{ArchiveRetries: 5}, true)
	f.archiver.failures = 2

	_, err := f.gw.Authorize(context.Background(), LiveApp, "bob", "s3cret")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !f.gw.Pending("bob") && f.archiver.Calls() == 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, f.live("bob"))
}

func TestAuthorize_ArchiveExhaustionKeepsStreamLive(t *testing.T) {
	f := newFixture(t, Config{ArchiveRetries: 5}, true)
	f.archiver.failures = -1

	_, err := f.gw.Authorize(context.Background(), LiveApp, "bob", "s3cret")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !f.gw.Pending("bob") && f.archiver.Calls() == 6 }, time.Second, 5*time.Millisecond)
	assert.True(t, f.live("bob"))
	assert.True(t, f.relay.IsActive("bob"))
}

func TestAuthorize_LegacyModeUsesRecorder(t *testing.T) {
	f := newFixture(t, Config{ArchiveMode: ArchiveLegacy}, true)
	rec := &fakeRecorder{}
	f.gw.deps.Recorder = rec

	_, err := f.gw.Authorize(context.Background(), LiveApp, "bob", "s3cret")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.users) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, f.archiver.Calls())
}

func TestEnd_CancelsPendingAndStopsRelay(t *testing.T) {
	f := newFixture(t, Config{LiveStatusDelay: time.Hour}, true)
	ctx := context.Background()

	_, err := f.gw.Authorize(ctx, LiveApp, "bob", "s3cret")
	require.NoError(t, err)
	require.True(t, f.gw.Pending("bob"))

	require.NoError(t, f.gw.End(ctx, LiveApp, "BOB"))

	assert.False(t, f.gw.Pending("bob"))
	assert.False(t, f.live("bob"))
	assert.False(t, f.relay.IsActive("bob"))
	_, stops := f.relay.counts()
	assert.Equal(t, 1, stops)
	assert.Zero(t, f.archiver.Calls())
}

func TestEnd_IgnoresOtherApps(t *testing.T) {
	f := newFixture(t, Config{}, false)
	f.relay.active["bob"] = true

	require.NoError(t, f.gw.End(context.Background(), "hls", "bob"))
	assert.True(t, f.relay.IsActive("bob"))
}

func TestTranscoded(t *testing.T) {
	f := newFixture(t, Config{}, false)
	f.gw.Transcoded("bob")

	require.Eventually(t, func() bool {
		s, _ := f.store.Streamer(context.Background(), "bob")
		return s.Transcoded
	}, time.Second, 5*time.Millisecond)
}
