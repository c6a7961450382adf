// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package notify pushes fire-and-forget stream status events to the chat
// and site backend.
package notify

import (
	"sync"
	"time"
)

// Topic groups events by the entity they describe.
type Topic string

const (
	TopicStreamer   Topic = "ingestion.streamer"
	TopicRestreamer Topic = "ingestion.restreamer"
)

// Action is the lifecycle step being reported.
type Action string

const (
	ActionConnect    Action = "connect"
	ActionUpdate     Action = "update"
	ActionDisconnect Action = "disconnect"
)

// Event is the wire payload.
type Event struct {
	Name     string    `json:"event"`
	Streamer string    `json:"streamer"`
	Server   string    `json:"server,omitempty"`
	Data     any       `json:"data,omitempty"`
	At       time.Time `json:"ts"`
}

// Name joins topic and action, e.g. "ingestion.streamer.connect".
func Name(topic Topic, action Action) string {
	return string(topic) + "." + string(action)
}

// Notifier delivers status events. Implementations must not block.
type Notifier interface {
	Notify(topic Topic, action Action, streamer string, data any)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Notify(Topic, Action, string, any) {}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(topic Topic, action Action, streamer string, data any) {
	r.mu.Lock()
	r.events = append(r.events, Event{Name: Name(topic, action), Streamer: streamer, Data: data, At: time.Now()})
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Name)
	}
	return out
}
