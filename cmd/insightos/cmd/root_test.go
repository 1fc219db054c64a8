package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajasaid/InsightOS/pkg/version"
)

// isolate points the user config and home at temp dirs so tests never read
// the developer's configuration.
func isolate(t *testing.T) (dataDir string) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("NO_COLOR", "1")
	return t.TempDir()
}

// run executes the CLI with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"index", "search", "status", "watch", "serve", "config", "logs", "version"} {
		assert.Contains(t, out, sub)
	}
	assert.Contains(t, out, "--profile-cpu")
}

func TestRootCmd_VersionFlag(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, version.Name+" version "+version.Version+"\n", out)
}

func TestVersionCmd(t *testing.T) {
	isolate(t)

	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version.Name+" "+version.Version)

	out, _, err = run(t, "version", "--json")
	require.NoError(t, err)
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
}

func TestRootCmd_InvalidConfigFails(t *testing.T) {
	// Given: an explicit config file with an out-of-range top_k
	dataDir := isolate(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  top_k: 99\n"), 0o644))

	// When: a command that loads the config runs
	_, _, err := run(t, "config", "show", "--config", path, "--data-dir", dataDir)

	// Then: loading fails before the command body
	require.Error(t, err)
	assert.Contains(t, err.Error(), "top_k")
}

func TestRootCmd_Profiling(t *testing.T) {
	dataDir := isolate(t)
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.prof")
	heap := filepath.Join(dir, "heap.prof")

	_, _, err := run(t, "config", "show", "--data-dir", dataDir, "--profile-cpu", cpu, "--profile-mem", heap)
	require.NoError(t, err)

	for _, p := range []string{cpu, heap} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}
