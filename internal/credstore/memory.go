// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package credstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
)

type memUser struct {
	name    string
	key     string
	archive bool
}

// MemoryStore is an in-memory Store intended for tests and local iteration.
// Not durable; not suitable for production.
type MemoryStore struct {
	urls URLs

	mu        sync.RWMutex
	users     map[string]memUser
	streamers map[string]Streamer
	archives  map[string][]ArchiveRecord
	restreams map[string]Restream
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(urls URLs) *MemoryStore {
	return &MemoryStore{
		urls:      urls,
		users:     make(map[string]memUser),
		streamers: make(map[string]Streamer),
		archives:  make(map[string][]ArchiveRecord),
		restreams: make(map[string]Restream),
	}
}

// RegisterStreamer creates or replaces credentials for user.
func (m *MemoryStore) RegisterStreamer(_ context.Context, user, key string, archive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[normalize(user)] = memUser{name: user, key: key, archive: archive}
	return nil
}

func (m *MemoryStore) CheckStreamKey(_ context.Context, user, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[normalize(user)]
	if !ok {
		return false, nil
	}
	return keysEqual(u.key, key), nil
}

func (m *MemoryStore) CheckArchiveEnabled(_ context.Context, user string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[normalize(user)]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownUser, user)
	}
	return u.archive, nil
}

func (m *MemoryStore) SetLiveStatus(_ context.Context, user string, live bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.streamers[normalize(user)]
	s.Name = user
	s.Live = live
	s.URL = m.urls.HLS(user)
	s.Thumbnail = m.urls.Preview(user)
	s.UpdatedAt = time.Now()
	m.streamers[normalize(user)] = s
	return nil
}

func (m *MemoryStore) SetTranscodeStatus(_ context.Context, user string, transcoded bool, variant string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.streamers[normalize(user)]
	s.Name = user
	s.Transcoded = transcoded
	s.TranscodeURL = ""
	if transcoded {
		s.TranscodeURL = m.urls.Transcode(user, variant)
	}
	s.UpdatedAt = time.Now()
	m.streamers[normalize(user)] = s
	return nil
}

func (m *MemoryStore) SaveArchiveRecord(_ context.Context, rec ArchiveRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := normalize(rec.User)
	m.archives[k] = append(m.archives[k], rec)
	return rec.ID, nil
}

func (m *MemoryStore) CreateRestream(_ context.Context, user, server string) (string, error) {
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restreams[id] = Restream{ID: id, User: user, Server: server, State: model.StateStarting, UpdatedAt: time.Now()}
	return id, nil
}

func (m *MemoryStore) SetRestreamState(_ context.Context, id string, state model.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.restreams[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRestream, id)
	}
	r.State = state
	r.UpdatedAt = time.Now()
	m.restreams[id] = r
	return nil
}

// Streamer returns the stored status for user.
func (m *MemoryStore) Streamer(_ context.Context, user string) (Streamer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streamers[normalize(user)]
	return s, ok
}

// Archives returns the saved archive records for user.
func (m *MemoryStore) Archives(_ context.Context, user string) ([]ArchiveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ArchiveRecord(nil), m.archives[normalize(user)]...), nil
}

// Restream returns the stored restream state.
func (m *MemoryStore) Restream(_ context.Context, id string) (Restream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.restreams[id]
	return r, ok
}
