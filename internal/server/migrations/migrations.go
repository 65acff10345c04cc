// Package migrations embeds the dispatch server's PostgreSQL schema
// migrations, applied with goose on startup.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
