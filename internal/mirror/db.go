// Package mirror provides read-only access to the SQLite projection of the
// merged requirement corpus. The mirror file is produced by an external
// ingestion job; this process never writes to it.
package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the mirror database file. The handle is opened read-write
// for historical reasons; only reads are issued here.
func Open(ctx context.Context, databasePath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", databasePath)
	if err != nil {
		return nil, fmt.Errorf("open mirror db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetMaxOpenConns(4)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping mirror db: %w", err)
	}
	return db, nil
}
