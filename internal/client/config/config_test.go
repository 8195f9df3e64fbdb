package config

import (
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, c.ServerBaseURL, "http://127.0.0.1:8080")
	assert.Equal(t, c.Namespace, "")
	assert.Equal(t, c.SessionToken, "")
	assert.Equal(t, c.DatabasePath, "journal.db")
}

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)
	os.Args = []string{"cmd", "-a", "http://srv:9000", "-n", "tenant", "-s", "token", "-f", "/tmp/j.db"}

	cfg := &Config{}
	require.NotPanics(t, func() { parseFlags(cfg) })

	assert.Equal(t, "http://srv:9000", cfg.ServerBaseURL)
	assert.Equal(t, "tenant", cfg.Namespace)
	assert.Equal(t, "token", cfg.SessionToken)
	assert.Equal(t, "/tmp/j.db", cfg.DatabasePath)
}

func Test_parseJson(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.json")
	b, err := json.Marshal(map[string]any{
		"server_base_url": "http://srv:9000",
		"namespace":       "tenant",
		"session_token":   "token",
		"database_path":   "/tmp/j.db",
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", path}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "http://srv:9000", cfg.ServerBaseURL)
		assert.Equal(t, "tenant", cfg.Namespace)
		assert.Equal(t, "token", cfg.SessionToken)
		assert.Equal(t, "/tmp/j.db", cfg.DatabasePath)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ nope`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}
