package migrations

import "embed"

// FS embeds the Postgres schema of the remote progress store.
//
//go:embed *.sql
var FS embed.FS
