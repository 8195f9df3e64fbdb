// Package config handles configuration for the device CLI, including
// defaults, JSON overlay, and command-line flags.
package config

// Config holds runtime settings for the journalsync CLI.
//
// Fields:
//   - ServerBaseURL: base HTTP URL of the sync server (the WebSocket
//     endpoint is derived from it).
//   - Namespace: tenant namespace this device belongs to.
//   - SessionToken: bearer token for the lifecycle API, issued out of band.
//   - DatabasePath: path of the local SQLite database (journal + identity).
type Config struct {
	ServerBaseURL string
	Namespace     string
	SessionToken  string
	DatabasePath  string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerBaseURL = "http://127.0.0.1:8080"
	c.Namespace = ""
	c.SessionToken = ""
	c.DatabasePath = "journal.db"
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
