// Package database provides SQLite connectivity and embedded schema
// migrations for panelsync.
//
// All persistent runtime data lives here: broker definitions, the twenty
// button and display slots, registered panels and the hub capability
// registry. The schema is applied by Migrate from SQL files embedded by the
// top-level migrations package.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
