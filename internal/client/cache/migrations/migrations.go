// Package migrations embeds the cache schema for goose.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
