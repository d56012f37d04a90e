// Package migrations embeds the Postgres schema.
package migrations

import "embed"

// FS holds the Postgres migration files.
//
//go:embed *.sql
var FS embed.FS
