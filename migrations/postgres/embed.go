// Package migrations embeds the SQL migrations of the postgres backend.
package migrations

import "embed"

// FS contains the config store migrations.
//
//go:embed sql/*.sql
var FS embed.FS

// Dir is the directory within FS where migrations live.
const Dir = "sql"
