// Package database provides the SQLite connection used for the
// last-known-good snapshot and any other local state.
//
// The connection is opened with WAL journaling and a busy timeout, limited
// to a single writer, and its file is restricted to 0600.
//
// Migrations are supplied by the caller as an fs.FS (normally the embedded
// migrations package) and applied in version order, one transaction each.
// Filenames follow YYYYMMDD_HHMMSS_description.{up,down}.sql.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
