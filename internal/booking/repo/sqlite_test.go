package repo

import (
	"context"
	"testing"

	"service-dispatch/internal/shared/db"
)

func newSQLiteStore(t *testing.T) testStore {
	t.Helper()
	sqlDB, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	r := NewSQLiteRepo(sqlDB)
	if err := r.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return r
}

func TestSQLiteRepo(t *testing.T) {
	runStoreSuite(t, newSQLiteStore)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newSQLiteStore(t).(*SQLiteRepo)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
