package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/journalsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the sync server (default from Config)
//	-n string   tenant namespace
//	-s string   session token
//	-f string   local database path
//
// Note: The function filters os.Args to only include the flags it knows
// about, using flagx.FilterArgs, to avoid interference with other
// components.
func parseFlags(cfg *Config) {
	// Filter args to include only those handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-n", "-s", "-f"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerBaseURL, "a", cfg.ServerBaseURL, "base URL to access server")
	fs.StringVar(&cfg.Namespace, "n", cfg.Namespace, "tenant namespace")
	fs.StringVar(&cfg.SessionToken, "s", cfg.SessionToken, "session token")
	fs.StringVar(&cfg.DatabasePath, "f", cfg.DatabasePath, "local database path")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
