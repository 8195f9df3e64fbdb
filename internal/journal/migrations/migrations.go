// Package migrations embeds the goose SQL migrations for the journal
// schema (entries and per-remote sequence rows).
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
