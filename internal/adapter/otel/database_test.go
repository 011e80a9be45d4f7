package otel_test

import (
	"context"
	"errors"
	"testing"

	adapter "github.com/neomorfeo/tenantplane/internal/adapter/otel"
	"github.com/neomorfeo/tenantplane/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantplane/internal/domain"
)

func TestOpenRegistryDB(t *testing.T) {
	db, err := adapter.OpenRegistryDB(t.TempDir() + "/registry.db")
	if err != nil {
		t.Fatalf("OpenRegistryDB: %v", err)
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("reading journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	repo, err := sqlite.NewFromDB(db)
	if err != nil {
		t.Fatalf("NewFromDB: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	if _, err := repo.GetBySubdomain(context.Background(), "nobody"); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("error = %v, want ErrTenantNotFound", err)
	}
}

func TestOpenRegistryDB_BadPath(t *testing.T) {
	if _, err := adapter.OpenRegistryDB("/nonexistent/dir/registry.db"); err == nil {
		t.Fatal("expected an error for a missing directory")
	}
}
