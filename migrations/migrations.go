// Package migrations embeds the schema files applied by cmd/migrate.
package migrations

import "embed"

// Files holds NNN_name.sql and NNN_name.down.sql pairs
//
//go:embed *.sql
var Files embed.FS
