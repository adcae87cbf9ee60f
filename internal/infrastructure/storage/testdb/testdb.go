// Package testdb provides an in-memory SQLite database for tests.
package testdb

import (
	"context"
	"testing"

	"ChannelPipeline/internal/infrastructure/storage"
	"ChannelPipeline/internal/logging"
)

// New creates an in-memory SQLite database with all migrations applied.
// The database is automatically closed when the test finishes.
func New(t *testing.T) storage.Database {
	t.Helper()
	db, err := storage.Open(context.Background(), "sqlite:///:memory:", logging.Discard())
	if err != nil {
		t.Fatalf("testdb.New: open database: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		_ = db.Close()
		t.Fatalf("testdb.New: auto migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
