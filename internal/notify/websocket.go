// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bitwave-tv/bitwave-media-server/internal/metrics"
)

// Config configures the WebSocket broadcaster.
type Config struct {
	URL            string
	Server         string // name of this media server, attached to every event
	QueueSize      int
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// Broadcaster writes events as JSON text frames to a single WebSocket
// connection, reconnecting with exponential backoff. Events produced while
// the connection is down are dropped.
type Broadcaster struct {
	cfg    Config
	logger zerolog.Logger
	dialer websocket.Dialer
	queue  chan Event

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewBroadcaster creates a broadcaster. Call Start to begin delivery.
func NewBroadcaster(cfg Config, logger zerolog.Logger) *Broadcaster {
	cfg.applyDefaults()
	return &Broadcaster{
		cfg:    cfg,
		logger: logger,
		dialer: websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Notify enqueues an event without blocking. A full queue drops it.
func (b *Broadcaster) Notify(topic Topic, action Action, streamer string, data any) {
	ev := Event{Name: Name(topic, action), Streamer: streamer, Server: b.cfg.Server, Data: data, At: time.Now().UTC()}
	select {
	case b.queue <- ev:
	default:
		metrics.IncNotifyDropped("queue_full")
	}
}

// Start launches the delivery loop. It stops when ctx ends or Close is called.
func (b *Broadcaster) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		b.cancel = cancel
		go b.run(ctx)
	})
}

// Close stops the delivery loop and waits for it to exit.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		if b.cancel == nil {
			close(b.done)
			return
		}
		b.cancel()
		<-b.done
	})
}

func (b *Broadcaster) run(ctx context.Context) {
	defer close(b.done)

	backoff := b.cfg.InitialBackoff
	for {
		conn, err := b.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn().Err(err).Str("url", b.cfg.URL).Dur("retry_in", backoff).Msg("notifier dial failed")
			if !b.waitDropping(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > b.cfg.MaxBackoff {
				backoff = b.cfg.MaxBackoff
			}
			continue
		}

		backoff = b.cfg.InitialBackoff
		b.logger.Info().Str("url", b.cfg.URL).Msg("notifier connected")
		b.pump(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		b.logger.Warn().Str("url", b.cfg.URL).Msg("notifier disconnected")
	}
}

func (b *Broadcaster) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := b.dialer.DialContext(ctx, b.cfg.URL, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// waitDropping sleeps for d while discarding queued events.
func (b *Broadcaster) waitDropping(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-b.queue:
			metrics.IncNotifyDropped("disconnected")
		}
	}
}

// pump writes queued events until the connection fails or ctx ends.
func (b *Broadcaster) pump(ctx context.Context, conn *websocket.Conn) {
	// The reader only detects remote close; the peer sends nothing we need.
	dead := make(chan struct{})
	go func() {
		defer close(dead)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case <-dead:
			return
		case ev := <-b.queue:
			_ = conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				metrics.IncNotifyDropped("write_error")
				b.logger.Warn().Err(err).Str("event", ev.Name).Msg("notifier write failed")
				return
			}
			metrics.IncNotifySent(ev.Name)
		}
	}
}
