package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"listen_addr":             "www.example:9000",
		"database_dsn":            "chat.db",
		"secret_key":              "my_secret_key",
		"token_validity_duration": "90m",
		"heartbeat_timeout":       "45s",
		"health_check_interval":   float64(3 * time.Second),
		"message_ring_size":       200,
		"instance_id":             "node7",
	})

	t.Run("loads from json", func(t *testing.T) {
		cfg := &Config{}
		parseJson(cfg, []string{"-config", pathFlag})

		assert.Equal(t, "www.example:9000", cfg.ListenAddr)
		assert.Equal(t, "chat.db", cfg.DatabaseDSN)
		assert.Equal(t, "my_secret_key", cfg.SecretKey)
		assert.Equal(t, 90*time.Minute, cfg.TokenValidityDuration)
		assert.Equal(t, 45*time.Second, cfg.HeartbeatTimeout)
		assert.Equal(t, 3*time.Second, cfg.HealthCheckInterval)
		assert.Equal(t, 200, cfg.MessageRingSize)
		assert.Equal(t, "node7", cfg.InstanceID)
	})

	t.Run("short flag and env var locate the file", func(t *testing.T) {
		cfg := &Config{}
		parseJson(cfg, []string{"-c", pathFlag})
		assert.Equal(t, "www.example:9000", cfg.ListenAddr)

		t.Setenv(ConfigFileEnv, pathFlag)
		cfg = &Config{}
		parseJson(cfg, nil)
		assert.Equal(t, "chat.db", cfg.DatabaseDSN)
	})

	t.Run("absent fields keep current values", func(t *testing.T) {
		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg, []string{"-config", pathFlag})

		assert.Equal(t, "chatdb", cfg.MongoDatabase)
		assert.Equal(t, 2*time.Second, cfg.StorageTimeout)
		assert.Equal(t, 50, cfg.HistoryLimit)
	})

	t.Run("no CONFIG and no flags → no changes", func(t *testing.T) {
		cfg := &Config{
			ListenAddr:       "defaults:1234",
			DatabaseDSN:      "chat.db",
			SecretKey:        "key",
			HeartbeatTimeout: 2 * time.Minute,
			MessageRingSize:  3,
		}
		parseJson(cfg, []string{})

		assert.Equal(t, "defaults:1234", cfg.ListenAddr)
		assert.Equal(t, "chat.db", cfg.DatabaseDSN)
		assert.Equal(t, "key", cfg.SecretKey)
		assert.Equal(t, 2*time.Minute, cfg.HeartbeatTimeout)
		assert.Equal(t, 3, cfg.MessageRingSize)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg, []string{"-config", bad}) })
	})

	t.Run("missing file → panics", func(t *testing.T) {
		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg, []string{"-config", filepath.Join(dir, "nope.json")}) })
	})
}
