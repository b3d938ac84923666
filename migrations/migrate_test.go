package migrations_test

import (
	"context"
	"testing"

	"github.com/hackgods/slot-booking/internal/testutil"
	"github.com/hackgods/slot-booking/migrations"
)

func TestNames_Sorted(t *testing.T) {
	names, err := migrations.Names()
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) == 0 || names[0] != "0001_init.sql" {
		t.Fatalf("expected 0001_init.sql first, got %v", names)
	}
}

func TestApply_IsRepeatable(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()

	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS schema_migrations`); err != nil {
		t.Fatalf("drop schema_migrations: %v", err)
	}

	if err := migrations.Apply(ctx, pool); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	names, _ := migrations.Names()
	if count != len(names) {
		t.Fatalf("expected %d recorded migrations, got %d", len(names), count)
	}

	if err := migrations.Apply(ctx, pool); err != nil {
		t.Fatalf("re-apply migrations: %v", err)
	}

	var again int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&again); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if again != count {
		t.Fatalf("expected migration count unchanged, got %d vs %d", again, count)
	}
}
