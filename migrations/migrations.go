// Package migrations embeds the goose migrations of the portfolio master.
package migrations

import "embed"

//go:embed portfolio/*.sql
var FS embed.FS

// Dir is the directory inside FS holding the migrations.
const Dir = "portfolio"
