// Package db embeds the SQL migrations consumed by golang-migrate.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
