package migrations

import "embed"

// FS embeds the SQL migrations of the SQLite key/value store.
//
//go:embed *.sql
var FS embed.FS
