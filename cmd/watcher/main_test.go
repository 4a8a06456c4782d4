package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriphim/watcher/internal/verdict"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "watcher.yaml", "storage:\n  driver: memory\nlogging:\n  level: error\n")
	env := filepath.Join(dir, "missing.env")

	t.Run("allow", func(t *testing.T) {
		req := writeFile(t, dir, "allow.json", `{"samples":["hold","hold","hold"]}`)
		out, err := runCLI(t, "validate", "--config", cfg, "--env-file", "", "-f", req)
		require.NoError(t, err)

		var v verdict.Verdict
		require.NoError(t, json.Unmarshal([]byte(out), &v))
		assert.Equal(t, "ALLOW", string(v.Action))
	})

	t.Run("block exits 2", func(t *testing.T) {
		req := writeFile(t, dir, "block.json", `{"samples":["hold","hold","hold"],"metrics":{"leverage":50}}`)
		out, err := runCLI(t, "validate", "--config", cfg, "--env-file", "", "-f", req)
		var ee exitError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, exitBlocked, ee.code)
		assert.Contains(t, out, `"action": "BLOCK"`)
	})

	t.Run("invalid exits 3", func(t *testing.T) {
		req := writeFile(t, dir, "bad.json", `{"samples":["only","two"]}`)
		_, err := runCLI(t, "validate", "--config", cfg, "--env-file", "", "-f", req)
		var ee exitError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, exitInvalid, ee.code)
	})

	t.Run("malformed json exits 3", func(t *testing.T) {
		req := writeFile(t, dir, "broken.json", `{"samples":[`)
		out, err := runCLI(t, "validate", "--config", cfg, "--env-file", "", "-f", req)
		var ee exitError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, exitInvalid, ee.code)
		assert.Contains(t, out, "malformed request")
	})

	t.Run("missing request file is not an input error", func(t *testing.T) {
		_, err := runCLI(t, "validate", "--config", cfg, "--env-file", "", "-f", filepath.Join(dir, "nope.json"))
		require.Error(t, err)
		var ee exitError
		assert.False(t, errors.As(err, &ee))
	})

	t.Run("explicit env file must exist", func(t *testing.T) {
		req := writeFile(t, dir, "allow2.json", `{"samples":["a","a","a"]}`)
		_, err := runCLI(t, "validate", "--config", cfg, "--env-file", env, "-f", req)
		require.Error(t, err)
	})
}

func TestLoadEnvDefaultMissingIsIgnored(t *testing.T) {
	assert.NoError(t, loadEnv(filepath.Join(t.TempDir(), ".env"), false))
	assert.Error(t, loadEnv(filepath.Join(t.TempDir(), ".env"), true))
}

func TestLoadEnvSetsVariables(t *testing.T) {
	p := writeFile(t, t.TempDir(), ".env", "WATCHER_CLI_TEST_KEY=abc\n")
	t.Cleanup(func() { os.Unsetenv("WATCHER_CLI_TEST_KEY") })

	require.NoError(t, loadEnv(p, true))
	assert.Equal(t, "abc", os.Getenv("WATCHER_CLI_TEST_KEY"))
}
