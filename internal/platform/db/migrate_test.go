package db

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrations_Annotated(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, migrationsDir)
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for _, e := range entries {
		body, err := fs.ReadFile(migrationsFS, migrationsDir+"/"+e.Name())
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		s := string(body)
		if !strings.Contains(s, "-- +goose Up") {
			t.Errorf("%s: missing goose Up annotation", e.Name())
		}
		if !strings.Contains(s, "-- +goose Down") {
			t.Errorf("%s: missing goose Down annotation", e.Name())
		}
	}
}

func TestEmbeddedMigrations_SlotIndex(t *testing.T) {
	body, err := fs.ReadFile(migrationsFS, migrationsDir+"/00002_scheduling.sql")
	if err != nil {
		t.Fatalf("read scheduling migration: %v", err)
	}
	if !strings.Contains(string(body), "WHERE status = 'Scheduled'") {
		t.Error("expected partial unique index on scheduled appointments")
	}
}
