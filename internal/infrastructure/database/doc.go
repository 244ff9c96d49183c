// Package database opens and migrates the MonoZone SQLite store.
//
// The store holds presets, schedules and schedule run history. It is a
// single-writer embedded database, so the connection pool is pinned to
// one connection and WAL mode is enabled for concurrent readers.
//
// Schema changes ship as versioned .up.sql/.down.sql pairs registered
// through MigrationsFS and applied in order by Migrate:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Each migration runs in its own transaction and is recorded in the
// schema_migrations table, so a partially failed upgrade never leaves
// an unversioned schema behind.
package database
