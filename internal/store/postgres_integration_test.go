//go:build postgres_integration

package store

import (
	"context"
	"os"
	"testing"

	"ambudispatch/internal/config"
)

func TestPostgresContract(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	runContract(t, func(t *testing.T) Store {
		db, err := Open(config.DatabaseConfig{Driver: "postgres", Postgres: config.PostgresConfig{DSN: dsn}})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := db.Ping(context.Background()); err != nil {
			t.Fatalf("ping: %v", err)
		}
		for _, tbl := range []string{"transport_requests", "vehicles", "assignments", "vehicle_locations",
			"location_alerts", "occupancy_records", "subscriptions", "webhook_deliveries"} {
			if _, err := db.db.Exec(`DELETE FROM ` + tbl); err != nil {
				t.Fatalf("truncate %s: %v", tbl, err)
			}
		}
		t.Cleanup(func() { _ = db.Close() })
		return db
	})
}
