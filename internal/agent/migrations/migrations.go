// Package migrations embeds the agent's goose migration files.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
