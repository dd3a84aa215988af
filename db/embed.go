// Package db embeds the PostgreSQL migrations and seed data layout.
package db

import "embed"

// Migrations holds the numbered DDL files under migrations/. They are
// applied in lexical order.
//
//go:embed migrations/*.sql
var Migrations embed.FS
