// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newWSServer(t *testing.T, received chan<- Event) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			received <- ev
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestBroadcaster_DeliversEvents(t *testing.T) {
	received := make(chan Event, 64)
	srv := newWSServer(t, received)

	b := NewBroadcaster(Config{URL: wsURL(srv), Server: "media-1", InitialBackoff: 10 * time.Millisecond}, zerolog.Nop())
	b.Start(context.Background())

	// Events queued before the connection is up may be dropped; retry until one lands.
	var got Event
	require.Eventually(t, func() bool {
		b.Notify(TopicStreamer, ActionConnect, "Alice", map[string]string{"state": "active"})
		select {
		case got = <-received:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "ingestion.streamer.connect", got.Name)
	assert.Equal(t, "Alice", got.Streamer)
	assert.Equal(t, "media-1", got.Server)

	b.Close()
}

func TestBroadcaster_DropsWhenQueueFull(t *testing.T) {
	b := NewBroadcaster(Config{URL: "ws://127.0.0.1:1", QueueSize: 1}, zerolog.Nop())
	b.Notify(TopicRestreamer, ActionUpdate, "bob", nil)
	b.Notify(TopicRestreamer, ActionUpdate, "bob", nil)
	assert.Len(t, b.queue, 1)
	b.Close()
}

func TestBroadcaster_CloseWhileDialing(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := NewBroadcaster(Config{URL: "ws://127.0.0.1:1", InitialBackoff: 5 * time.Millisecond}, zerolog.Nop())
	b.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	b.Close()
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Notify(TopicStreamer, ActionConnect, "a", nil)
	r.Notify(TopicStreamer, ActionDisconnect, "a", nil)
	assert.Equal(t, []string{"ingestion.streamer.connect", "ingestion.streamer.disconnect"}, r.Names())
	Nop{}.Notify(TopicStreamer, ActionUpdate, "a", nil)
}
