package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/analytics/internal/platform/db"
)

func TestMigrator_ConcurrentUpAppliesOnce(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	schema := uniqueSchema("mig")
	t.Cleanup(func() {
		globalDB.Pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
	})

	m := db.NewMigrator(globalDB.Pool, db.Migrations())

	statuses, err := m.Status(ctx, schema)
	if err != nil {
		t.Fatalf("status before up: %v", err)
	}
	if db.PendingCount(statuses) != len(statuses) {
		t.Fatalf("fresh schema should have every migration pending: %+v", statuses)
	}
	var exists bool
	globalDB.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_namespace WHERE nspname = $1)`, schema).Scan(&exists)
	if exists {
		t.Fatal("status must not create the schema")
	}

	var wg sync.WaitGroup
	applied := make([]int, 3)
	errs := make([]error, 3)
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			applied[i], errs[i] = m.Up(ctx, schema)
		}()
	}
	wg.Wait()

	total := 0
	for i := range 3 {
		if errs[i] != nil {
			t.Fatalf("up #%d: %v", i, errs[i])
		}
		total += applied[i]
	}
	if total != len(statuses) {
		t.Errorf("expected %d migrations applied across runs, got %d", len(statuses), total)
	}

	statuses, err = m.Status(ctx, schema)
	if err != nil {
		t.Fatalf("status after up: %v", err)
	}
	if n := db.PendingCount(statuses); n != 0 {
		t.Errorf("expected nothing pending, got %d", n)
	}
}

func TestHealthHandler_Postgres(t *testing.T) {
	requireDB(t)
	e := echo.New()

	check := func(schema string) map[string]any {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)
		if err := db.HealthHandler(globalDB.Pool, schema)(c); err != nil {
			t.Fatalf("health: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return body
	}

	body := check(uniqueSchema("empty"))
	if body["status"] != "degraded" || body["backend"] != "postgres" {
		t.Errorf("unmigrated schema should be degraded: %v", body)
	}

	schema := uniqueSchema("healthy")
	t.Cleanup(func() {
		globalDB.Pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
	})
	if _, err := db.NewMigrator(globalDB.Pool, db.Migrations()).Up(context.Background(), schema); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	body = check(schema)
	if body["status"] != "healthy" || body["pending_migrations"] != float64(0) {
		t.Errorf("migrated schema should be healthy: %v", body)
	}
}
