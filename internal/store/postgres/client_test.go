package postgres

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{"explicit dsn wins", ClientConfig{DSN: "postgres://x", Host: "ignored"}, "postgres://x"},
		{"defaults", ClientConfig{Host: "db", User: "u", Password: "p", Database: "escrow"},
			"postgres://u:p@db:5432/escrow?sslmode=disable"},
		{"custom port and ssl", ClientConfig{Host: "db", Port: 6543, User: "u", Password: "p", Database: "e", SSLMode: "require"},
			"postgres://u:p@db:6543/e?sslmode=require"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505"})
	if !isUniqueViolation(dup) {
		t.Error("wrapped 23505 not detected")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation reported as unique")
	}
	if isUniqueViolation(errors.New("boom")) {
		t.Error("plain error reported as unique")
	}
}

func TestMigrationsIndexInvoices(t *testing.T) {
	data, err := fs.ReadFile(migrationsFS, "migrations/001_escrow.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sql := string(data)
	for _, idx := range []string{"orders_hash_key", "orders_secret_key"} {
		if !strings.Contains(sql, "CREATE UNIQUE INDEX IF NOT EXISTS "+idx) {
			t.Errorf("migration lacks unique index %s", idx)
		}
	}
}

func TestPendingMigrations(t *testing.T) {
	all, err := pendingMigrations(nil)
	if err != nil {
		t.Fatalf("pendingMigrations: %v", err)
	}
	if len(all) == 0 || all[0] != "001_escrow.sql" {
		t.Fatalf("pending = %v, want 001_escrow.sql first", all)
	}
	rest, err := pendingMigrations([]string{"001_escrow.sql"})
	if err != nil {
		t.Fatalf("pendingMigrations: %v", err)
	}
	if len(rest) != len(all)-1 {
		t.Errorf("applied migration still pending: %v", rest)
	}
}
