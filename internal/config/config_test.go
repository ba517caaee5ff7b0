package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
server:
  host: "127.0.0.1"
  port: 9090
  dev_signin: true

database:
  dsn: "postgres://u:p@localhost:5432/bills"
  max_conns: 10
  min_conns: 1

auth:
  jwt_secret: "this-is-a-very-long-jwt-secret-for-testing-32+"
  token_ttl: "2h"

sync:
  max_batch_size: 100
  lock_timeout: "1s"

client:
  queue_path: "/tmp/queue.db"
  server_url: "http://sync.local:9090"
  max_retries: 2
  base_delay: "500ms"
  max_delay: "10s"

log:
  level: "debug"
  format: "text"
`

func writeYAML(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FromYAML(t *testing.T) {
	path := writeYAML(t, t.TempDir(), validYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Server.DevSignin)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout, "default applies to missing keys")
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 100, cfg.Sync.MaxBatchSize)
	assert.False(t, cfg.Sync.DisablePrincipalLock)
	assert.Equal(t, time.Second, cfg.Sync.LockTimeout)
	assert.Equal(t, 3, cfg.Sync.TxMaxAttempts)
	assert.Equal(t, "http://sync.local:9090", cfg.Client.ServerURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Client.BaseDelay)
	assert.Equal(t, "debug", cfg.Log.Level)

	require.NoError(t, cfg.ValidateServer())
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeYAML(t, t.TempDir(), validYAML)
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("SYNC_MAX_BATCH_SIZE", "25")
	t.Setenv("CLIENT_TOKEN", "tok")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Sync.MaxBatchSize)
	assert.Equal(t, "tok", cfg.Client.Token)
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 500, cfg.Sync.MaxBatchSize)
	assert.Equal(t, int64(4194304), cfg.Sync.MaxBodyBytes)
	assert.Equal(t, 0, cfg.Client.MaxBatchSize, "client sends the whole snapshot by default")
	assert.Equal(t, 5, cfg.Client.MaxRetries)
	assert.Equal(t, time.Second, cfg.Client.BaseDelay)
	assert.Equal(t, time.Minute, cfg.Client.MaxDelay)
	assert.Equal(t, "json", cfg.Log.Format)

	err = cfg.ValidateServer()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn")
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_ConfigPathEnv(t *testing.T) {
	path := writeYAML(t, t.TempDir(), validYAML)
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"bad log level", "log:\n  level: loud\n", "log: level"},
		{"bad log format", "log:\n  format: xml\n", "log: format"},
		{"negative batch", "sync:\n  max_batch_size: -1\n", "max_batch_size"},
		{"non-positive attempts", "sync:\n  tx_max_attempts: -1\n", "tx_max_attempts"},
		{"delay above cap", "client:\n  base_delay: 2m\n  max_delay: 1m\n", "base_delay"},
		{"negative retries", "client:\n  max_retries: -3\n", "max_retries"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeYAML(t, t.TempDir(), tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateServer_ShortSecret(t *testing.T) {
	yaml := strings.Replace(validYAML, "this-is-a-very-long-jwt-secret-for-testing-32+", "short", 1)
	cfg, err := Load(writeYAML(t, t.TempDir(), yaml))
	require.NoError(t, err)

	err = cfg.ValidateServer()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestConversions(t *testing.T) {
	cfg, err := Load(writeYAML(t, t.TempDir(), validYAML))
	require.NoError(t, err)

	svc := cfg.Sync.ServiceConfig()
	assert.Equal(t, 100, svc.MaxBatchSize)
	assert.Equal(t, time.Second, svc.LockTimeout)
	assert.True(t, svc.SerializePrincipal)
	assert.Equal(t, svc.MaxBatchSize, cfg.Sync.Limits().MaxBatchSize)

	qc := cfg.Client.QueueConfig()
	assert.Equal(t, 2, qc.MaxRetries)
	assert.Equal(t, 10*time.Second, qc.MaxDelay)
	assert.Equal(t, 30*time.Second, qc.SubmitTimeout)
}
