// Package database opens the SQLite store and keeps its schema current.
//
// Migrations are read from any fs.FS (normally migrations.FS) as
// "<date>_<time>_<name>.up.sql" files with optional ".down.sql" partners,
// and are tracked in the schema_migrations table.
package database
