// Package migrations embeds the goose SQL migrations for the run database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
