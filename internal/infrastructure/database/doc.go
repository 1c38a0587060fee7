// Package database provides SQLite persistence for the setup service.
//
// This package manages:
//   - Opening the database with WAL mode and busy-timeout pragmas
//   - Running embedded schema migrations at startup
//   - Connection health checks
//
// The database holds the setup result log and the quench event log; the
// hierarchy itself is configuration-defined and never persisted.
//
// # Usage
//
//	db, err := database.Open(database.Config{Path: "./data/sclinac.db", WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
