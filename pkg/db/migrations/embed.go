// Package migrations contains the embedded PostgreSQL schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
