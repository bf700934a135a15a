package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jun/gophdav/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, "memory", cfg.Backend.Type)
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.Locks.DefaultTimeout)
	assert.Equal(t, time.Hour, cfg.Locks.MaxTimeout)
	assert.Equal(t, 8, cfg.PropFind.MaxDepth)
	assert.Equal(t, "gophdav", cfg.Auth.Realm)
	assert.Equal(t, "log", cfg.Reconcile.Type)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
server:
  listen: ":9000"
  prefix: /dav/
backend:
  type: rest
  timeout: 5s
  rate_limit: 20
  rest:
    base_url: http://files.internal
locks:
  default_timeout: 2m
  max_timeout: 30m
`)
	t.Setenv("GOPHDAV_SERVER_LISTEN", ":9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":9100", cfg.Server.Listen, "environment overrides the file")
	assert.Equal(t, "/dav", cfg.Server.Prefix)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 20, cfg.Backend.Burst)
	assert.Equal(t, "http://files.internal", cfg.Backend.Rest["base_url"])
	assert.Equal(t, 2*time.Minute, cfg.Locks.DefaultTimeout)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown backend", "backend:\n  type: ftp\n", "Backend.Type"},
		{"rest without base_url", "backend:\n  type: rest\n", "base_url is required"},
		{"max below default", "locks:\n  default_timeout: 1h\n  max_timeout: 1m\n", "max_timeout"},
		{"basic without token_url", "auth:\n  basic: true\n", "token_url is required"},
		{"bad log level", "logging:\n  level: loud\n", "Logging.Level"},
		{"relative prefix", "server:\n  prefix: dav\n", "must start with /"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCreateBackend_Memory(t *testing.T) {
	cfg := &BackendConfig{Type: "memory", Memory: map[string]any{"workspaces": "team,ops"}}
	applyBackendDefaults(cfg)

	p, err := CreateBackend(context.Background(), cfg, nil)
	require.NoError(t, err)
	c, err := p.ForToken(context.Background(), "any")
	require.NoError(t, err)

	root, err := c.Lookup(context.Background(), "/")
	require.NoError(t, err)
	ws, err := c.List(context.Background(), root.Identity)
	require.NoError(t, err)
	require.Len(t, ws, 2)
	assert.Equal(t, "ops", ws[1].Name)
}

func TestCreateBackend_Errors(t *testing.T) {
	_, err := CreateBackend(context.Background(), &BackendConfig{Type: "rest"}, nil)
	assert.ErrorContains(t, err, "base_url is required")

	_, err = CreateBackend(context.Background(), &BackendConfig{Type: "ftp"}, nil)
	assert.ErrorContains(t, err, "unknown backend type")
}

func TestCreateRecorder(t *testing.T) {
	r, err := CreateRecorder(context.Background(), &ReconcileConfig{Type: "log"})
	require.NoError(t, err)
	assert.IsType(t, reconcile.LogRecorder{}, r)

	_, err = CreateRecorder(context.Background(), &ReconcileConfig{Type: "dynamodb"})
	assert.ErrorContains(t, err, "table is required")
}

func TestDecode_Durations(t *testing.T) {
	var out dynamoReconcileConfig
	require.NoError(t, decode(map[string]any{"table": "orphans", "ttl": "72h"}, &out))
	assert.Equal(t, "orphans", out.Table)
	assert.Equal(t, 72*time.Hour, out.TTL)
}
