// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestConfigValidate(t *testing.T) {
	var out, errOut bytes.Buffer
	path := writeYAML(t, "listenAddr: \":4000\"\n")
	assert.Equal(t, 0, configCLI([]string{"validate", "-f", path}, &out, &errOut))
	assert.Contains(t, out.String(), "is valid")

	out.Reset()
	bad := writeYAML(t, "listenAdr: \":4000\"\n")
	assert.Equal(t, 1, configCLI([]string{"validate", "--file", bad}, &out, &errOut))
	assert.Contains(t, errOut.String(), "Configuration error")
}

func TestConfigDump_MasksSecrets(t *testing.T) {
	path := writeYAML(t, "redis:\n  addr: localhost:6379\n  password: hunter2\n")

	var out, errOut bytes.Buffer
	require.Equal(t, 0, configCLI([]string{"dump", "-f", path, "--format=json"}, &out, &errOut), errOut.String())
	assert.NotContains(t, out.String(), "hunter2")

	var dumped map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &dumped))
	assert.Contains(t, dumped, "Redis")

	out.Reset()
	require.Equal(t, 0, configCLI([]string{"dump", "-f", path}, &out, &errOut))
	assert.NotContains(t, out.String(), "hunter2")
	assert.Contains(t, out.String(), "password:")
}

func TestConfigCLI_Usage(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 0, configCLI(nil, &out, &errOut))
	assert.Equal(t, 2, configCLI([]string{"frobnicate"}, &out, &errOut))
	assert.Equal(t, 2, configCLI([]string{"dump", "--format=toml"}, &out, &errOut))
}
