// Package migrations embeds the warehouse schema migration files so the
// migrator and integration tests run from a single binary with no external
// file dependencies.
package migrations

import "embed"

// Files holds every versioned migration pair.
//
//go:embed *.sql
var Files embed.FS
