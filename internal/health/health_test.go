// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitwave-tv/bitwave-media-server/internal/config"
)

func okPing(context.Context) error   { return nil }
func failPing(context.Context) error { return errors.New("connection refused") }

func TestManager_NoCheckersIsReady(t *testing.T) {
	m := NewManager("v1")
	resp := m.Ready(context.Background())
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestManager_OptionalFailureDegrades(t *testing.T) {
	m := NewManager("v1")
	m.RegisterChecker(NewPingChecker("redis", false, okPing))
	m.RegisterChecker(NewPingChecker("notify", true, failPing))

	resp := m.Ready(context.Background())
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["notify"].Error)
}

func TestManager_RequiredFailureNotReady(t *testing.T) {
	m := NewManager("v1")
	m.RegisterChecker(NewPingChecker("redis", false, failPing))
	m.RegisterChecker(NewPingChecker("storage", true, failPing))

	resp := m.Ready(context.Background())
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestServeEndpoints(t *testing.T) {
	m := NewManager("v1")
	m.RegisterChecker(NewPingChecker("redis", false, failPing))

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Checks)

	rec = httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz?verbose=true", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)

	rec = httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDirChecker(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, StatusHealthy, NewDirChecker("archive", dir).Check(context.Background()).Status)

	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	assert.Equal(t, StatusUnhealthy, NewDirChecker("archive", file).Check(context.Background()).Status)
	assert.Equal(t, StatusUnhealthy, NewDirChecker("archive", "").Check(context.Background()).Status)
}

func TestBinaryChecker(t *testing.T) {
	assert.Equal(t, StatusHealthy, NewBinaryChecker("shell", "sh").Check(context.Background()).Status)
	assert.Equal(t, StatusUnhealthy, NewBinaryChecker("ffmpeg", "definitely-not-a-binary-bms").Check(context.Background()).Status)
}

func TestPerformStartupChecks(t *testing.T) {
	root := t.TempDir()
	cfg := config.Defaults()
	cfg.Relay.PreviewDir = filepath.Join(root, "preview")
	cfg.Archive.Dir = filepath.Join(root, "archives")
	cfg.Storage.LocalDir = filepath.Join(root, "replay")
	cfg.FFmpeg.Path = "sh"
	cfg.FFmpeg.ProbePath = "sh"

	require.NoError(t, PerformStartupChecks(context.Background(), cfg))
	assert.DirExists(t, cfg.Archive.Dir)
	assert.DirExists(t, cfg.Storage.LocalDir)

	cfg.FFmpeg.Path = "definitely-not-a-binary-bms"
	assert.ErrorContains(t, PerformStartupChecks(context.Background(), cfg), "definitely-not-a-binary-bms")
}
