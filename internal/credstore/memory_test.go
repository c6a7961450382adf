// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package credstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(URLs{CDNHost: "https://cdn.example.tv/"})

	require.NoError(t, s.RegisterStreamer(ctx, "Dave", "key", false))
	ok, err := s.CheckStreamKey(ctx, "dave", "key")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CheckStreamKey(ctx, "dave", "")
	require.NoError(t, err)
	assert.False(t, ok, "empty key never matches")

	require.NoError(t, s.SetLiveStatus(ctx, "Dave", true))
	st, ok := s.Streamer(ctx, "DAVE")
	require.True(t, ok)
	assert.True(t, st.Live)
	assert.Equal(t, "https://cdn.example.tv/hls/Dave/index.m3u8", st.URL)

	require.NoError(t, s.SetTranscodeStatus(ctx, "Dave", true, "abr"))
	st, _ = s.Streamer(ctx, "dave")
	assert.Equal(t, "https://cdn.example.tv/abr/Dave.m3u8", st.TranscodeURL)

	require.NoError(t, s.SetTranscodeStatus(ctx, "Dave", false, "abr"))
	st, _ = s.Streamer(ctx, "dave")
	assert.Empty(t, st.TranscodeURL)

	id, err := s.CreateRestream(ctx, "Dave", "rtmp://x")
	require.NoError(t, err)
	require.NoError(t, s.SetRestreamState(ctx, id, model.StateFailed))
	r, ok := s.Restream(ctx, id)
	require.True(t, ok)
	assert.Equal(t, model.StateFailed, r.State)

	_, err = s.SaveArchiveRecord(ctx, ArchiveRecord{User: "Dave", Type: "raw"})
	require.NoError(t, err)
	recs, err := s.Archives(ctx, "dave")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
