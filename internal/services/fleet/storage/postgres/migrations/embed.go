// Package migrations embeds the PostgreSQL event journal schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
