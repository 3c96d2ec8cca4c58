// Package migrations embeds the goose migration files for the server's
// backed-up-files index.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
