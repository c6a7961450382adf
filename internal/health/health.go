// SPDX-License-Identifier: MIT

// Package health serves liveness and readiness probes with per-component
// detail.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/bitwave-tv/bitwave-media-server/internal/log"
)

// Status is the state of one component or of the whole server.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const checkTimeout = 3 * time.Second

// CheckResult is the outcome of one checker.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Response is returned by both probes.
type Response struct {
	Status    Status                 `json:"status"`
	Ready     bool                   `json:"ready"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker inspects one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager runs the registered checkers.
type Manager struct {
	version string

	mu       sync.RWMutex
	checkers []Checker
}

func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// RegisterChecker adds a checker.
func (m *Manager) RegisterChecker(c Checker) {
	m.mu.Lock()
	m.checkers = append(m.checkers, c)
	m.mu.Unlock()
}

// run executes every checker concurrently and folds their status.
func (m *Manager) run(ctx context.Context) Response {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	resp := Response{Status: StatusHealthy, Ready: true, Version: m.version, Timestamp: time.Now()}
	if len(checkers) == 0 {
		return resp
	}

	results := make([]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			results[i] = c.Check(cctx)
		}()
	}
	wg.Wait()

	resp.Checks = make(map[string]CheckResult, len(checkers))
	for i, c := range checkers {
		r := results[i]
		resp.Checks[c.Name()] = r
		switch r.Status {
		case StatusUnhealthy:
			resp.Status = StatusUnhealthy
			resp.Ready = false
		case StatusDegraded:
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		}
	}
	return resp
}

// Health is the liveness view. Checks run only when verbose is set.
func (m *Manager) Health(ctx context.Context, verbose bool) Response {
	if !verbose {
		return Response{Status: StatusHealthy, Ready: true, Version: m.version, Timestamp: time.Now()}
	}
	return m.run(ctx)
}

// Ready is the readiness view. Any unhealthy checker makes it not ready.
func (m *Manager) Ready(ctx context.Context) Response {
	return m.run(ctx)
}

// ServeHealth always answers 200 while the process is alive.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	resp := m.Health(r.Context(), r.URL.Query().Get("verbose") == "true")
	writeJSON(w, r, http.StatusOK, resp)
}

// ServeReady answers 503 while a dependency is unhealthy.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	resp := m.Ready(r.Context())
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, resp)
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger := log.WithContext(r.Context(), log.WithComponent("health"))
		logger.Error().Err(err).Str(log.FieldEvent, "health.encode_error").Msg("failed to encode health response")
	}
}
