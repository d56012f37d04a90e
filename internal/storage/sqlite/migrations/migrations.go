// Package migrations embeds the SQLite schema.
package migrations

import "embed"

// FS holds the SQLite migration files.
//
//go:embed *.sql
var FS embed.FS
