// Package migrations embeds the inventory schema for goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
