package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTestMetastore opens a migrated metastore in t.TempDir() and registers
// cleanup. Tests that don't need the read/write split can use writeDB for
// everything.
func OpenTestMetastore(t *testing.T) (writeDB, readDB *sql.DB) {
	t.Helper()

	writeDB, readDB, err := OpenMetastore(filepath.Join(t.TempDir(), "meta.sqlite"), 4)
	if err != nil {
		t.Fatalf("open test metastore: %v", err)
	}
	t.Cleanup(func() {
		_ = readDB.Close()
		_ = writeDB.Close()
	})
	return writeDB, readDB
}
