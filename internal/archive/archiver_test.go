// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package archive

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitwave-tv/bitwave-media-server/internal/credstore"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/exec/ffmpeg/ffmpegtest"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
)

func newTestArchiver(t *testing.T) (*Archiver, *ffmpegtest.Launcher, *credstore.MemoryStore) {
	t.Helper()
	l := ffmpegtest.NewLauncher()
	store := credstore.NewMemoryStore(credstore.URLs{})
	tm := &Transmuxer{
		ThumbnailCount: 2,
		Runner:         writingRunner(nil),
		Prober:         fakeProber{info: probed},
		Logger:         zerolog.Nop(),
	}
	a := New(Config{IngestHost: "localhost", Dir: t.TempDir(), Service: "bitwave"}, l, tm, store, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, a.Shutdown(ctx))
	})
	return a, l, store
}

func TestCaptureSpec(t *testing.T) {
	spec := CaptureSpec("ingest", "alice", "/data/a.flv")
	assert.Equal(t, "rtmp://ingest/live/alice", spec.Input.URL)
	assert.Equal(t, []string{"/data/a.flv"}, spec.Targets())
	assert.Equal(t, []string{"-c", "copy", "-f", "flv"}, spec.Outputs[0].Options)
}

func TestArchiver_StopTransmuxesAndSaves(t *testing.T) {
	ctx := context.Background()
	a, l, store := newTestArchiver(t)

	file, err := a.StartArchive(ctx, "Alice", "")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`Alice-archive-\d+\.flv$`), filepath.Base(file))

	view, ok := a.Get("alice", DefaultTag)
	require.True(t, ok)
	assert.Equal(t, model.StateActive, view.State)
	assert.Equal(t, DefaultTag, view.Tag)

	p := <-l.Launched()
	assert.Equal(t, file, p.Spec.Outputs[0].Target)
	require.NoError(t, os.WriteFile(file, []byte("flvdata"), 0o600))

	stopped, err := a.StopArchive(ctx, "alice", "")
	require.NoError(t, err)
	assert.True(t, stopped)

	require.Eventually(t, func() bool {
		recs, _ := store.Archives(ctx, "alice")
		return len(recs) == 1
	}, 2*time.Second, 5*time.Millisecond)

	recs, _ := store.Archives(ctx, "alice")
	rec := recs[0]
	assert.Equal(t, "mp4", rec.Type)
	assert.Equal(t, "Alice", rec.User)
	assert.Equal(t, "bitwave", rec.Service)
	assert.InDelta(t, 100.0, rec.DurationSeconds, 1e-9)
	assert.Len(t, rec.Thumbnails, 2)
	assert.Empty(t, rec.UploadError)
	assert.NoFileExists(t, file)
	assert.Empty(t, a.List())
}

func TestArchiver_RejectsNamesOutsideArchiveDir(t *testing.T) {
	ctx := context.Background()
	a, l, _ := newTestArchiver(t)

	_, err := a.StartArchive(ctx, "bob", "/../../../../../../../../tmp/escaped")
	assert.ErrorIs(t, err, model.ErrInvalidTarget)
	_, err = a.StartArchive(ctx, "../bob", "")
	assert.ErrorIs(t, err, model.ErrInvalidTarget)

	assert.Zero(t, l.Count())
	assert.Empty(t, a.List())
}

func TestArchiver_TagsAreIndependentSlots(t *testing.T) {
	ctx := context.Background()
	a, l, _ := newTestArchiver(t)

	_, err := a.StartArchive(ctx, "bob", "archive")
	require.NoError(t, err)

	_, err = a.StartArchive(ctx, "BOB", "archive")
	assert.ErrorIs(t, err, model.ErrAlreadyActive)

	_, err = a.StartArchive(ctx, "bob", "highlight")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Count())
	assert.Len(t, a.List(), 2)
}

func TestArchiver_EmptyCaptureSavesNothing(t *testing.T) {
	ctx := context.Background()
	a, l, store := newTestArchiver(t)

	file, err := a.StartArchive(ctx, "carol", "")
	require.NoError(t, err)
	p := <-l.Launched()
	p.End()

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(sctx))

	recs, _ := store.Archives(ctx, "carol")
	assert.Empty(t, recs)
	assert.NoFileExists(t, file)
}

func TestArchiver_CrashWithDataIsStillArchived(t *testing.T) {
	ctx := context.Background()
	a, l, store := newTestArchiver(t)

	file, err := a.StartArchive(ctx, "dave", "")
	require.NoError(t, err)
	p := <-l.Launched()
	require.NoError(t, os.WriteFile(file, []byte("flvdata"), 0o600))
	p.Crash(assert.AnError, "Connection reset by peer")

	require.Eventually(t, func() bool {
		recs, _ := store.Archives(ctx, "dave")
		return len(recs) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestArchiver_SpawnFailure(t *testing.T) {
	a, l, _ := newTestArchiver(t)
	l.FailNext(assert.AnError)

	_, err := a.StartArchive(context.Background(), "erin", "")
	assert.ErrorIs(t, err, model.ErrSpawnFailure)
	assert.Empty(t, a.List())
}

func TestArchiver_StopUnknown(t *testing.T) {
	a, _, _ := newTestArchiver(t)
	ok, err := a.StopArchive(context.Background(), "nobody", "")
	assert.False(t, ok)
	assert.ErrorIs(t, err, model.ErrNotRunning)
}
