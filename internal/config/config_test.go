package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"DB", "SOCKET", "SOCKET_NETWORK", "PROGRESS_URL", "PROGRESS_NAMESPACE",
		"PROGRESS_EVENT", "PROGRESS_BACKOFF", "LOG_LEVEL", "LOG_FORMAT", "METRICS_ADDR"} {
		key := EnvPrefix + k
		if old, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, old) })
		}
	}
}

func TestLoad_FileEnvPrecedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), `
db:
  path: /srv/vault.db
socket:
  network: tcp
  address: 127.0.0.1:7000
progress:
  url: http://localhost:9000
  backoff: 500ms
logging:
  level: debug
`)
	writeFile(t, filepath.Join(dir, EnvFile), "GRAPHCORE_LOG_FORMAT=json\nGRAPHCORE_METRICS_ADDR=:9100\nGRAPHCORE_LOG_LEVEL=warn\n")
	t.Setenv(EnvPrefix+"LOG_LEVEL", "error")

	cfg, err := Load(filepath.Join(dir, FileName))
	require.NoError(t, err)

	want := Default()
	want.Path = filepath.Join(dir, FileName)
	want.DBPath = "/srv/vault.db"
	want.SocketNetwork = "tcp"
	want.SocketAddress = "127.0.0.1:7000"
	want.ProgressURL = "http://localhost:9000"
	want.ReconnectBackoff = 500 * time.Millisecond
	want.LogLevel = "error" // real env beats .env beats file
	want.LogFormat = "json"
	want.MetricsAddr = ":9100"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_DiscoversFromWorkingDir(t *testing.T) {
	clearEnv(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, FileName), "progress:\n  event: capture-progress\n")
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	t.Chdir(nested)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "capture-progress", cfg.ProgressEvent)
	assert.Equal(t, filepath.Join(root, FileName), cfg.Path)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err, "explicit path must exist")

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "progress:\n  backoff: soon\n")
	_, err = Load(bad)
	assert.ErrorContains(t, err, "invalid backoff")

	t.Setenv(EnvPrefix+"PROGRESS_BACKOFF", "-1s")
	t.Chdir(t.TempDir())
	_, err = Load("")
	assert.ErrorContains(t, err, "must be positive")
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "x", FileName), "")
	deep := filepath.Join(root, "x", "y", "z")
	require.NoError(t, os.MkdirAll(deep, 0o755))

	got, ok := Discover(deep, FileName)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "x", FileName), got)

	_, ok = Discover(root, "nope.yaml")
	assert.False(t, ok)
}
