// Package migrations embeds the scheduler's Postgres schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
