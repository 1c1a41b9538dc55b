// Package storagetest opens throwaway databases with the production schema.
package storagetest

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/platinummonkey/cohort/pkg/storage"
)

var seq atomic.Int64

// NewSQLite returns a migrated in-memory SQLite database closed at test cleanup.
// Each call gets its own database.
func NewSQLite(t testing.TB) *sql.DB {
	t.Helper()

	url := fmt.Sprintf("file:cohort_test_%d?mode=memory&cache=shared", seq.Add(1))
	db, err := storage.Open(context.Background(), storage.ConnectionConfig{
		Driver:      storage.DriverSQLite,
		URL:         url,
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
