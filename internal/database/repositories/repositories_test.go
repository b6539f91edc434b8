package repositories

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/aristath/tradecore/internal/database"
)

// setupTestDB opens an in-memory SQLite database and applies the core
// schema, following the teacher's cash_flows/handlers_test.go pattern of
// a real (not mocked) database per test.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	conn.SetMaxOpenConns(1) // a private in-memory db only exists on one connection
	t.Cleanup(func() { conn.Close() })

	if _, err := conn.Exec(database.Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return conn
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
