// Package db embeds the versioned SQL migrations.
package db

import "embed"

// Migrations holds the golang-migrate files (NNNN_name.up.sql / .down.sql).
//
//go:embed migrations/*.sql
var Migrations embed.FS
