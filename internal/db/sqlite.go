// Package db opens the SQLite metastore and the fact databases the cube
// engine reads, and runs metastore migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver
	_ "github.com/mattn/go-sqlite3"    // register sqlite3 driver
)

const busyTimeout = "5000" // ms

// access is how a SQLite pool is used. It decides the DSN and pool size.
type access int

const (
	// metaWrite is the single-connection metastore pool that takes the
	// write lock at BEGIN.
	metaWrite access = iota
	// metaRead serves schema lookups concurrently with the writer.
	metaRead
	// factRead opens a fact file the engine must never modify.
	factRead
)

func (a access) String() string {
	switch a {
	case metaWrite:
		return "metastore write"
	case metaRead:
		return "metastore read"
	case factRead:
		return "fact read"
	}
	return fmt.Sprintf("access(%d)", int(a))
}

// sqliteDSN builds the go-sqlite3 DSN for path. Fact files are opened as a
// URI so mode=ro reaches SQLite; query_only also rejects writes the driver
// would otherwise let through on a shared connection.
func sqliteDSN(path string, a access) string {
	params := url.Values{}
	params.Set("_busy_timeout", busyTimeout)
	if a == factRead {
		params.Set("mode", "ro")
		params.Set("_query_only", "true")
		return "file:" + path + "?" + params.Encode()
	}

	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	params.Set("_foreign_keys", "on")
	if a == metaWrite {
		params.Set("_txlock", "immediate")
	}
	return path + "?" + params.Encode()
}

// OpenMetastore opens the write and read pools of the cube schema
// metastore and applies pending migrations on the write pool. The write
// pool holds one connection; readMaxOpen <= 0 gives the read pool four.
func OpenMetastore(path string, readMaxOpen int) (writeDB, readDB *sql.DB, err error) {
	writeDB, err = openPool("sqlite3", sqliteDSN(path, metaWrite), 1, metaWrite)
	if err != nil {
		return nil, nil, err
	}
	if err := RunMigrations(writeDB); err != nil {
		_ = writeDB.Close()
		return nil, nil, err
	}

	if readMaxOpen <= 0 {
		readMaxOpen = 4
	}
	readDB, err = openPool("sqlite3", sqliteDSN(path, metaRead), readMaxOpen, metaRead)
	if err != nil {
		_ = writeDB.Close()
		return nil, nil, err
	}
	return writeDB, readDB, nil
}

// OpenFactDB opens the database holding the fact and dimension tables.
// driver is "duckdb" or "sqlite3". A SQLite fact file is opened read-only.
// An empty path opens a writable in-memory database capped at one
// connection so every query sees the same data.
func OpenFactDB(driver, path string) (*sql.DB, error) {
	dsn := path
	switch driver {
	case "duckdb":
	case "sqlite3":
		if path == "" {
			dsn = ":memory:"
		} else {
			dsn = sqliteDSN(path, factRead)
		}
	default:
		return nil, fmt.Errorf("unsupported fact driver %q", driver)
	}

	maxOpen := 0
	if path == "" {
		maxOpen = 1
	}
	return openPool(driver, dsn, maxOpen, factRead)
}

// openPool opens and pings a pool. maxOpen <= 0 leaves the pool unbounded.
func openPool(driver, dsn string, maxOpen int, a access) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s (%s): %w", driver, a, err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s (%s): %w", driver, a, err)
	}
	return db, nil
}
