package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weitek/telegram-channel-meaning/internal/config"
	"github.com/weitek/telegram-channel-meaning/internal/database"
	"github.com/weitek/telegram-channel-meaning/migrations"
)

// newTestPG 在独立 schema 中建库; 未设置 TEST_POSTGRES_DSN 时跳过。
func newTestPG(t *testing.T) *PGArchive {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	schema := fmt.Sprintf("tgarchive_test_%d", time.Now().UnixNano())

	admin, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+pgx.Identifier{schema}.Sanitize()); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+pgx.Identifier{schema}.Sanitize()+" CASCADE")
		admin.Close()
	})

	pool, err := database.NewPool(ctx, &config.Config{
		PostgresConnStr:     dsn,
		PostgresSchema:      schema,
		PostgresPoolMinSize: 1,
		PostgresPoolMaxSize: 4,
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if err := database.Migrate(ctx, pool, migrations.Postgres()); err != nil {
		pool.Close()
		t.Fatalf("Migrate: %v", err)
	}
	a := NewPGArchive(pool)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestPGArchiveContract(t *testing.T) {
	runArchiveContract(t, newTestPG(t))
}

func TestPGArchive_NilPool(t *testing.T) {
	a := NewPGArchive(nil)
	ctx := context.Background()
	if _, err := a.Lookup(ctx, msgAt(1, 1, 0, 0, "").Key()); err == nil {
		t.Error("Lookup: expected error for nil pool")
	}
	if _, err := a.Statistics(ctx); err == nil {
		t.Error("Statistics: expected error for nil pool")
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestArchiveLogStore_NilPool(t *testing.T) {
	s := NewArchiveLogStore(nil)
	ctx := context.Background()
	if _, err := s.List(ctx, LogListParams{}); err == nil {
		t.Error("List: expected error for nil pool")
	}
	if _, err := s.Cleanup(ctx, 0); err == nil {
		t.Error("Cleanup: expected error for nil pool")
	}
	if _, err := s.FilterValues(ctx); err == nil {
		t.Error("FilterValues: expected error for nil pool")
	}
}
