package migrations

import "embed"

// FS contains embedded SQLite migrations for rounds storage.
//
//go:embed *.sql
var FS embed.FS
