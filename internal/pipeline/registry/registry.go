// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package registry tracks supervised pipelines of one kind, keyed by
// case-insensitive user name. Each record owns its process handle and is
// removed exactly once, by the terminal event of the process it tracks.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bitwave-tv/bitwave-media-server/internal/metrics"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/exec/ffmpeg"
	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
	"github.com/bitwave-tv/bitwave-media-server/internal/validate"
)

// ID names a registry slot. Tag is only used by kinds that allow several
// concurrent pipelines per user.
type ID struct {
	User string
	Tag  string
}

// UserID returns the untagged slot for user.
func UserID(user string) ID { return ID{User: user} }

// Key is the normalized map key for the slot.
func (id ID) Key() string {
	k := strings.ToLower(strings.TrimSpace(id.User))
	if id.Tag != "" {
		k += "/" + strings.ToLower(strings.TrimSpace(id.Tag))
	}
	return k
}

// Validate rejects names that are unsafe in file paths or ingest URLs.
func (id ID) Validate() error {
	v := validate.New()
	v.Name("user", id.User)
	if id.Tag != "" {
		v.Name("tag", id.Tag)
	}
	if err := v.Err(); err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidTarget, err)
	}
	return nil
}

// Token identifies one generation of a slot. Operations carrying a stale
// token are no-ops.
type Token struct {
	key string
	gen uint64
}

// Valid reports whether the token was issued by a registry.
func (t Token) Valid() bool { return t.gen != 0 }

func (t Token) String() string { return fmt.Sprintf("%s#%d", t.key, t.gen) }

type record struct {
	view   model.RecordView
	gen    uint64
	handle *ffmpeg.Handle
}

// transitions lists the legal state changes for a live record.
var transitions = map[model.State][]model.State{
	model.StateStarting: {model.StateActive, model.StateStopping},
	model.StateActive:   {model.StateStopping},
}

func allowed(from, to model.State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Registry is a mutex-guarded map of records for one pipeline kind.
type Registry struct {
	kind model.Kind

	mu      sync.Mutex
	records map[string]*record
	nextGen uint64
	now     func() time.Time
}

// New creates an empty registry for kind.
func New(kind model.Kind) *Registry {
	return &Registry{
		kind:    kind,
		records: make(map[string]*record),
		now:     time.Now,
	}
}

// Kind returns the pipeline kind this registry tracks.
func (r *Registry) Kind() model.Kind { return r.kind }

// Reserve claims the slot in state starting. It fails with
// model.ErrAlreadyActive if a record already occupies it and with
// model.ErrInvalidTarget if id does not validate.
func (r *Registry) Reserve(id ID) (Token, error) {
	if err := id.Validate(); err != nil {
		return Token{}, err
	}
	key := id.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[key]; ok && existing.view.State.Occupies() {
		return Token{}, fmt.Errorf("%w: %s %s is %s", model.ErrAlreadyActive, r.kind, existing.view.User, existing.view.State)
	}

	r.nextGen++
	rec := &record{
		gen: r.nextGen,
		view: model.RecordView{
			User:      strings.TrimSpace(id.User),
			Tag:       id.Tag,
			Kind:      r.kind,
			State:     model.StateStarting,
			StartedAt: r.now(),
		},
	}
	r.records[key] = rec
	metrics.SetPipelineActive(string(r.kind), len(r.records))
	return Token{key: key, gen: rec.gen}, nil
}

// lookup returns the record for tok if its generation is still current.
// Caller holds r.mu.
func (r *Registry) lookup(tok Token) (*record, bool) {
	rec, ok := r.records[tok.key]
	if !ok || rec.gen != tok.gen {
		return nil, false
	}
	return rec, true
}

// Attach binds the launched process handle and its target to the record.
func (r *Registry) Attach(tok Token, h *ffmpeg.Handle, target string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.lookup(tok)
	if !ok {
		return false
	}
	rec.handle = h
	rec.view.Target = target
	return true
}

// SetExternalID stores the identifier of the record's external counterpart.
func (r *Registry) SetExternalID(tok Token, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.lookup(tok)
	if !ok {
		return false
	}
	rec.view.ExternalID = id
	return true
}

// Activate moves a starting record to active. A record that is already
// stopping stays stopping.
func (r *Registry) Activate(tok Token) (model.RecordView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.lookup(tok)
	if !ok {
		return model.RecordView{}, false
	}
	if allowed(rec.view.State, model.StateActive) {
		rec.view.State = model.StateActive
	}
	return rec.view, true
}

// UpdateStats stores the latest progress. Updates for a record that no
// longer exists (or was replaced) are dropped and report false.
func (r *Registry) UpdateStats(tok Token, st model.Stats) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.lookup(tok)
	if !ok {
		return false
	}
	rec.view.Stats = st
	return true
}

// MarkStopping moves the record for id to stopping and returns its handle
// and token. It fails with model.ErrNotRunning if there is no record or a
// stop is already in progress.
func (r *Registry) MarkStopping(id ID) (*ffmpeg.Handle, Token, model.RecordView, error) {
	key := id.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[key]
	if !ok || !allowed(rec.view.State, model.StateStopping) {
		return nil, Token{}, model.RecordView{}, fmt.Errorf("%w: %s %s", model.ErrNotRunning, r.kind, id.User)
	}
	rec.view.State = model.StateStopping
	return rec.handle, Token{key: key, gen: rec.gen}, rec.view, nil
}

// Remove deletes the record for tok and returns its final view with state
// set to final. It succeeds at most once per token.
func (r *Registry) Remove(tok Token, final model.State) (model.RecordView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.lookup(tok)
	if !ok {
		return model.RecordView{}, false
	}
	delete(r.records, tok.key)
	metrics.SetPipelineActive(string(r.kind), len(r.records))

	view := rec.view
	view.State = final
	return view, true
}

// Get returns a snapshot of the record for id.
func (r *Registry) Get(id ID) (model.RecordView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id.Key()]
	if !ok {
		return model.RecordView{}, false
	}
	return rec.view, true
}

// Token returns the current generation token for id.
func (r *Registry) Token(id ID) (Token, bool) {
	key := id.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return Token{}, false
	}
	return Token{key: key, gen: rec.gen}, true
}

// List returns snapshots of all records sorted by key.
func (r *Registry) List() []model.RecordView {
	r.mu.Lock()
	keys := make([]string, 0, len(r.records))
	for k := range r.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]model.RecordView, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.records[k].view)
	}
	r.mu.Unlock()
	return out
}

// IDs returns the slot IDs of all records.
func (r *Registry) IDs() []ID {
	views := r.List()
	out := make([]ID, 0, len(views))
	for _, v := range views {
		out = append(out, ID{User: v.User, Tag: v.Tag})
	}
	return out
}

// Len returns the number of tracked records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
