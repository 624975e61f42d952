package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandtui/strand/pkg/observability"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8787", cfg.Connection.Host)
	assert.False(t, cfg.Connection.TLS)
	assert.Equal(t, 5, cfg.Connection.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Connection.MaxBackoff)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NotEmpty(t, cfg.History.Path)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
connection:
  host: agent.internal:9000
  token: file-token
  tls: true
  max_retries: 3
log_level: debug
debug:
  addr: 127.0.0.1:6060
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "agent.internal:9000", cfg.Connection.Host)
	assert.Equal(t, "file-token", cfg.Connection.Token)
	assert.True(t, cfg.Connection.TLS)
	assert.Equal(t, 3, cfg.Connection.MaxRetries)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:6060", cfg.Debug.Addr)
	// Unset fields still default.
	assert.Equal(t, 30*time.Second, cfg.Connection.MaxBackoff)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connection:\n  host: from-file:1\n"), 0o644))

	t.Setenv("STRAND_HOST", "from-env:2")
	t.Setenv("STRAND_TOKEN", "env-token")
	t.Setenv("STRAND_TLS", "true")
	t.Setenv("STRAND_LOG_LEVEL", "warn")
	t.Setenv("STRAND_DEBUG_ADDR", "127.0.0.1:7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env:2", cfg.Connection.Host)
	assert.Equal(t, "env-token", cfg.Connection.Token)
	assert.True(t, cfg.Connection.TLS)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:7070", cfg.Debug.Addr)
}

func TestInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("connection: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestInvalidLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("chatty")
	assert.Error(t, err)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchLogLevelReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o644))

	var buf syncBuffer
	observability.SetOutput(&buf)
	t.Cleanup(func() { observability.SetOutput(os.Stderr) })
	observability.SetLevel(slog.LevelInfo)
	t.Cleanup(func() { observability.SetLevel(slog.LevelInfo) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchLogLevel(ctx, path))

	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o644))

	probe := observability.NewLogger("config-test")
	assert.Eventually(t, func() bool {
		probe.Debug("level probe")
		return strings.Contains(buf.String(), "level probe")
	}, 5*time.Second, 50*time.Millisecond)
}
