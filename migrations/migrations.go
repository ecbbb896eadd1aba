// Package migrations embeds the goose SQL migrations applied at startup.
package migrations

import "embed"

// FS holds the embedded SQL migration files.
//
//go:embed *.sql
var FS embed.FS
