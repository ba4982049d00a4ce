package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "production") // skip .env lookup
	t.Setenv("CONFIG_PATH", "/nonexistent/client.yaml")

	cfg := Load()

	assert.Equal(t, "http://localhost:8080", cfg.APIBaseURL)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.WSURL)
	assert.Equal(t, 5, cfg.ReconnectAttempts)
	assert.Equal(t, time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 3*time.Second, cfg.TypingStopDelay)
	assert.Equal(t, 6*time.Second, cfg.TypingExpiry)
	assert.Equal(t, time.Second, cfg.SeenGraceDelay)
	assert.Equal(t, 256, cfg.WSSendBufferSize)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_YAMLFile(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_base_url: https://chat.example.com
ws_url: wss://chat.example.com/ws
reconnect_attempts: 3
reconnect_delay_ms: 250
typing_stop_delay_ms: 1500
log_level: debug
`), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg := Load()

	assert.Equal(t, "https://chat.example.com", cfg.APIBaseURL)
	assert.Equal(t, "wss://chat.example.com/ws", cfg.WSURL)
	assert.Equal(t, 3, cfg.ReconnectAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectDelay)
	assert.Equal(t, 1500*time.Millisecond, cfg.TypingStopDelay)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, 6*time.Second, cfg.TypingExpiry)
	assert.Equal(t, 4096, cfg.WSMaxMessageSize)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reconnect_attempts: 3\n"), 0o644))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("RECONNECT_ATTEMPTS", "7")
	t.Setenv("WS_URL", "wss://override.example.com/ws")

	cfg := Load()

	assert.Equal(t, 7, cfg.ReconnectAttempts)
	assert.Equal(t, "wss://override.example.com/ws", cfg.WSURL)
}

func TestLoad_BadValues(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("CONFIG_PATH", "/nonexistent/client.yaml")

	t.Run("non-numeric env falls back", func(t *testing.T) {
		t.Setenv("RECONNECT_ATTEMPTS", "lots")
		cfg := Load()
		assert.Equal(t, 5, cfg.ReconnectAttempts)
	})

	t.Run("negative attempts clamp to zero", func(t *testing.T) {
		t.Setenv("RECONNECT_ATTEMPTS", "-2")
		cfg := Load()
		assert.Zero(t, cfg.ReconnectAttempts)
	})
}

func TestLoadEnvFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(`
# comment
LOADENV_PLAIN=value
LOADENV_QUOTED="quoted value"
LOADENV_EXISTING=from-file
=no-key
not-a-pair
`), 0o644))

	t.Setenv("LOADENV_EXISTING", "from-env")
	t.Setenv("LOADENV_PLAIN", "")
	t.Setenv("LOADENV_QUOTED", "")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	loadEnvFrom(f)

	assert.Equal(t, "value", os.Getenv("LOADENV_PLAIN"))
	assert.Equal(t, "quoted value", os.Getenv("LOADENV_QUOTED"))
	assert.Equal(t, "from-env", os.Getenv("LOADENV_EXISTING"), "real env wins over .env")
}
