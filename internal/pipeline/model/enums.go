// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model holds the shared vocabulary of the pipeline layer: kinds,
// lifecycle states, failure causes and the sentinel errors callers match on.
package model

import "time"

// Kind identifies the purpose of a supervised pipeline.
type Kind string

const (
	KindRelay     Kind = "relay"
	KindTranscode Kind = "transcode"
	KindRestream  Kind = "restream"
	KindArchive   Kind = "archive"
)

// State is the lifecycle of a registry record.
type State string

const (
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// IsTerminal returns true if the state is a final state.
func (s State) IsTerminal() bool {
	switch s {
	case StateStopped, StateFailed:
		return true
	}
	return false
}

// Occupies reports whether a record in this state holds the (kind, user) slot.
func (s State) Occupies() bool {
	switch s {
	case StateStarting, StateActive, StateStopping:
		return true
	}
	return false
}

// Cause classifies why a pipeline process failed.
type Cause string

const (
	CauseNone    Cause = ""
	CauseKilled  Cause = "killed"
	CauseSpawn   Cause = "spawn"
	CauseRuntime Cause = "runtime"
)

// Stats is the latest progress reported by a running encoder.
type Stats struct {
	Frames      int64   `json:"frames"`
	FPS         float64 `json:"fps"`
	BitrateKbps float64 `json:"bitrate_kbps"`
	Timemark    string  `json:"timemark"`
}

// RecordView is a read-only snapshot of a registry record without its process handle.
type RecordView struct {
	User       string    `json:"user"`
	Tag        string    `json:"tag,omitempty"`
	Kind       Kind      `json:"kind"`
	State      State     `json:"state"`
	Stats      Stats     `json:"stats"`
	StartedAt  time.Time `json:"started_at"`
	ExternalID string    `json:"external_id,omitempty"`
	Target     string    `json:"target,omitempty"`
}
