package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/journalsync/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-j string   journal directory
//	-s string   JWT HMAC secret key
//	-t int      sync token validity, minutes
//	-l float    request-rate limit, requests per second
//	-b int      request-rate burst
//	-v int      max vaults per tenant
//	-m int      max storage per vault, bytes
//	-n int      max devices per vault
//	-e string   peer replica WebSocket endpoint
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Duration
// flags are accepted as integers in minutes and then converted to
// time.Duration values.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-j", "-s", "-t", "-l", "-b", "-v", "-m", "-n", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.JournalDir, "j", config.JournalDir, "journal directory")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	syncTokenValidityDuration := fs.Int("t", int(config.SyncTokenValidityDuration.Minutes()), "sync_token_validity_duration (in minutes)")

	fs.Float64Var(&config.RateLimitPerSecond, "l", config.RateLimitPerSecond, "request rate limit per second")
	fs.IntVar(&config.RateLimitBurst, "b", config.RateLimitBurst, "request rate burst")
	fs.IntVar(&config.MaxVaults, "v", config.MaxVaults, "max vaults per tenant")
	fs.Int64Var(&config.MaxStorageBytes, "m", config.MaxStorageBytes, "max storage per vault in bytes")
	fs.IntVar(&config.MaxDevices, "n", config.MaxDevices, "max devices per vault")
	fs.StringVar(&config.PeerEndpointAddr, "e", config.PeerEndpointAddr, "peer replica endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SyncTokenValidityDuration = time.Duration(*syncTokenValidityDuration) * time.Minute
}
