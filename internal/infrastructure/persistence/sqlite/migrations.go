package sqlite

import "embed"

// Migrations holds the SQLite schema, applied by database.Migrator from MigrationsDir.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the SQL files
const MigrationsDir = "migrations"
