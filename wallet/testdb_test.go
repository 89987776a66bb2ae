package wallet

import (
	"testing"
	"time"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
)

// openTestDB returns a fresh, empty bdb-backed walletdb.DB rooted in a
// t.TempDir(), closed automatically via t.Cleanup.
func openTestDB(t *testing.T) walletdb.DB {
	t.Helper()
	path := t.TempDir() + "/test.db"
	db, err := walletdb.Create("bdb", path, true, time.Minute)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
