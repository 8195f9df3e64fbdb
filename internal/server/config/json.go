package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/journalsync/internal/flagx"
	"github.com/dmitrijs2005/journalsync/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "24h" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into the
// runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP          string         `json:"endpoint_addr_http"`
	DatabaseDSN               string         `json:"database_dsn"`
	JournalDir                string         `json:"journal_dir"`
	SecretKey                 string         `json:"secret_key"`
	SyncTokenValidityDuration timex.Duration `json:"sync_token_validity_duration"`
	RateLimitPerSecond        float64        `json:"rate_limit_per_second"`
	RateLimitBurst            int            `json:"rate_limit_burst"`
	MaxVaults                 int            `json:"max_vaults"`
	MaxStorageBytes           int64          `json:"max_storage_bytes"`
	MaxDevices                int            `json:"max_devices"`
	PeerEndpointAddr          string         `json:"peer_endpoint_addr"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags; if neither
// is set, no JSON file is loaded. If the file cannot be read or contains
// invalid JSON, the function panics.
//
// The caller is expected to merge these values with defaults and
// command-line flags as part of the full configuration process.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.JournalDir = c.JournalDir
	config.SecretKey = c.SecretKey
	config.SyncTokenValidityDuration = c.SyncTokenValidityDuration.Duration
	config.RateLimitPerSecond = c.RateLimitPerSecond
	config.RateLimitBurst = c.RateLimitBurst
	config.MaxVaults = c.MaxVaults
	config.MaxStorageBytes = c.MaxStorageBytes
	config.MaxDevices = c.MaxDevices
	config.PeerEndpointAddr = c.PeerEndpointAddr
}
