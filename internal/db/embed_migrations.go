package db

import "embed"

// MigrationFS holds the versioned schema migrations compiled into the
// binary. internal/db/migrate feeds it to golang-migrate through an iofs
// source, so deployments never ship loose SQL files.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
