package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serverprep/hardn/pkg/runner"
)

func TestSplitOnly(t *testing.T) {
	assert.Equal(t, []string{"ssh", "firewall", "update"}, splitOnly([]string{"ssh, firewall", "update", ","}))
	assert.Nil(t, splitOnly(nil))
}

func TestRun_DryRun(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), opts{ConfigDir: t.TempDir(), DryRun: true, NoColor: true, Attempts: 5}, &out)
	require.Equal(t, runner.ExitOK, code)

	s := out.String()
	assert.Contains(t, s, "| 1 | preflight | Pre-flight Checks | fatal |")
	assert.Contains(t, s, "| 4 | packages | Package Installation | reports progress |")
	assert.Contains(t, s, "| 7 | firewall | Firewall |  |")
	assert.Contains(t, s, "- attempts per command: 5, timeout 10m0s")
	assert.Contains(t, s, "- substitutions: apt -> nala, apt-get -> nala")
}

func TestRun_DryRunOnly(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), opts{ConfigDir: t.TempDir(), DryRun: true, NoColor: true, Only: []string{"ssh"}}, &out)
	require.Equal(t, runner.ExitOK, code)
	assert.Contains(t, out.String(), "| 1 | preflight |")
	assert.Contains(t, out.String(), "| 2 | ssh | SSH Hardening |")
	assert.NotContains(t, out.String(), "firewall")

	out.Reset()
	code = run(context.Background(), opts{ConfigDir: t.TempDir(), DryRun: true, NoColor: true, Only: []string{"kernel"}}, &out)
	assert.Equal(t, runner.ExitFailed, code)
	assert.Contains(t, out.String(), `unknown phase "kernel"`)
}

func TestRun_BadConfig(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), opts{ConfigDir: t.TempDir(), Config: filepath.Join(t.TempDir(), "missing")}, &out)
	assert.Equal(t, runner.ExitFailed, code)
	assert.Contains(t, out.String(), "ERROR: load config")
}

func TestRun_InvalidValue(t *testing.T) {
	local := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(local, []byte("ssh_port = 70000\n"), 0o600))
	var out bytes.Buffer
	code := run(context.Background(), opts{ConfigDir: t.TempDir(), Config: local, DryRun: true}, &out)
	assert.Equal(t, runner.ExitFailed, code)
}
