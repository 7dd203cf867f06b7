package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zhaojing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestDefaults 没有配置文件时使用默认值
func TestDefaults(t *testing.T) {
	v := newViper("")
	v.AddConfigPath(t.TempDir())
	cfg, err := read(v)
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.Server.Addr)
	assert.Equal(t, "/ws", cfg.Server.WebSocket.Path)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 0, cfg.Submission.MaxRetries, "默认不重试")
	assert.Equal(t, 30*time.Second, cfg.Submission.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Transport.HandshakeTimeout)
	assert.Equal(t, int32(25), cfg.Store.Postgres.MaxConns)
	assert.Equal(t, 1.0, cfg.Playback.Speed)
}

// TestLoadFileAndEnv 配置文件覆盖默认值，环境变量覆盖配置文件
func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":7000"
store:
  driver: memory
submission:
  max_retries: 3
  retry_interval: 200ms
logging:
  level: debug
`)
	t.Setenv("ZHAOJING_GRPC_ADDR", ":7001")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Submission.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Submission.RetryInterval)
	assert.Equal(t, ":7001", cfg.GRPC.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)

	policy := cfg.Submission.RetryPolicy()
	assert.Equal(t, 3, policy.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, policy.RetryInterval)
}

// TestValidate 非法配置被拒绝
func TestValidate(t *testing.T) {
	cases := map[string]string{
		"unknown driver":   "store:\n  driver: leveldb\n",
		"negative retries": "submission:\n  max_retries: -1\n",
		"empty addr":       "server:\n  addr: \"\"\n",
		"bad ws path":      "server:\n  websocket:\n    path: ws\n",
		"negative speed":   "playback:\n  speed: -2\n",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

// TestManagerReload 重新加载后通知监听者；新配置无效时保留旧配置
func TestManagerReload(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: memory\nlogging:\n  level: info\n")

	m := NewManager(WithConfigPath(path))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)

	var seen []string
	m.OnChange(func(old, updated *Config) {
		seen = append(seen, old.Logging.Level+"->"+updated.Logging.Level)
	})

	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: memory\nlogging:\n  level: error\n"), 0o644))
	require.NoError(t, m.Reload())

	got, err := m.Get()
	require.NoError(t, err)
	assert.Equal(t, "error", got.Logging.Level)
	assert.Equal(t, []string{"info->error"}, seen)

	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: nope\n"), 0o644))
	assert.Error(t, m.Reload())

	got, err = m.Get()
	require.NoError(t, err)
	assert.Equal(t, "error", got.Logging.Level)
	assert.Len(t, seen, 1)

	summary := m.Summary()
	assert.Equal(t, true, summary["loaded"])
	assert.Equal(t, "memory", summary["store_driver"])
}

// TestEnvFile .env 中的变量参与配置
func TestEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("ZHAOJING_SERVER_ADDR=:7100\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("ZHAOJING_SERVER_ADDR") })

	path := writeConfig(t, "store:\n  driver: memory\n")
	m := NewManager(WithConfigPath(path), WithEnvFiles(envFile, filepath.Join(dir, "missing.env")))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, ":7100", cfg.Server.Addr)
}
