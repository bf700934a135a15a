package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { cfgFile = "" })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	Version = "1.2.3"
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "gophdav 1.2.3")
}

func TestCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen: \":9443\"\n  prefix: /dav\n"), 0o644))

	out, err := run(t, "check", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration OK")
	assert.Contains(t, out, ":9443")
	assert.Contains(t, out, "memory")
}

func TestCheck_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  type: ftp\n"), 0o644))

	_, err := run(t, "check", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}
