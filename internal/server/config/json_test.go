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
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"endpoint_addr_http":           "www.example:9000",
		"database_dsn":                 "registry_dsn",
		"journal_dir":                  "/var/lib/journals",
		"secret_key":                   "my_secret_key",
		"sync_token_validity_duration": "24h",
		"rate_limit_per_second":        2.5,
		"rate_limit_burst":             7,
		"max_vaults":                   3,
		"max_storage_bytes":            1024,
		"max_devices":                  2,
		"peer_endpoint_addr":           "ws://peer:8080/api/rpc",
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "www.example:9000", cfg.EndpointAddrHTTP)
		assert.Equal(t, "registry_dsn", cfg.DatabaseDSN)
		assert.Equal(t, "/var/lib/journals", cfg.JournalDir)
		assert.Equal(t, "my_secret_key", cfg.SecretKey)
		assert.Equal(t, 24*time.Hour, cfg.SyncTokenValidityDuration)
		assert.Equal(t, 2.5, cfg.RateLimitPerSecond)
		assert.Equal(t, 7, cfg.RateLimitBurst)
		assert.Equal(t, 3, cfg.MaxVaults)
		assert.Equal(t, int64(1024), cfg.MaxStorageBytes)
		assert.Equal(t, 2, cfg.MaxDevices)
		assert.Equal(t, "ws://peer:8080/api/rpc", cfg.PeerEndpointAddr)
	})

	t.Run("no CONFIG and no flags → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{
			EndpointAddrHTTP:          "defaults:1234",
			DatabaseDSN:               "registry_dsn",
			JournalDir:                "./journals",
			SecretKey:                 "key",
			SyncTokenValidityDuration: 2 * time.Minute,
			RateLimitPerSecond:        1,
			RateLimitBurst:            2,
			MaxVaults:                 3,
			MaxStorageBytes:           4,
			MaxDevices:                5,
			PeerEndpointAddr:          "ws://peer",
		}
		parseJson(cfg)

		assert.Equal(t, "defaults:1234", cfg.EndpointAddrHTTP)
		assert.Equal(t, "registry_dsn", cfg.DatabaseDSN)
		assert.Equal(t, "./journals", cfg.JournalDir)
		assert.Equal(t, "key", cfg.SecretKey)
		assert.Equal(t, 2*time.Minute, cfg.SyncTokenValidityDuration)
		assert.Equal(t, float64(1), cfg.RateLimitPerSecond)
		assert.Equal(t, 2, cfg.RateLimitBurst)
		assert.Equal(t, 3, cfg.MaxVaults)
		assert.Equal(t, int64(4), cfg.MaxStorageBytes)
		assert.Equal(t, 5, cfg.MaxDevices)
		assert.Equal(t, "ws://peer", cfg.PeerEndpointAddr)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}
