// Package migrations embeds the SQL schema of the durable stores, one
// directory per database dialect.
package migrations

import "embed"

// Files holds mysql/, postgres/ and sqlite/ migration files.
//
//go:embed mysql/*.sql postgres/*.sql sqlite/*.sql
var Files embed.FS
