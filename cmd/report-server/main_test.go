package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hadadahealth/reports/internal/config"
	"github.com/hadadahealth/reports/internal/platform/db"
)

func TestMigrationFiles_Embedded(t *testing.T) {
	migs, err := db.NewMigrator(nil, migrationFiles("")).LoadMigrations()
	if err != nil {
		t.Fatalf("load embedded migrations: %v", err)
	}
	if len(migs) < 4 {
		t.Fatalf("expected the embedded schema, got %d files", len(migs))
	}
	for i, m := range migs {
		if m.Version != i+1 {
			t.Errorf("expected contiguous versions, got %d at %d", m.Version, i)
		}
	}
}

func TestMigrationFiles_PrefersDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_only.sql"), []byte("SELECT 1;"), 0o644); err != nil {
		t.Fatal(err)
	}
	migs, err := db.NewMigrator(nil, migrationFiles(dir)).LoadMigrations()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(migs) != 1 || migs[0].Name != "001_only.sql" {
		t.Errorf("expected the on-disk file, got %+v", migs)
	}
}

func TestMigrationFiles_MissingDirFallsBack(t *testing.T) {
	migs, err := db.NewMigrator(nil, migrationFiles(filepath.Join(t.TempDir(), "nope"))).LoadMigrations()
	if err != nil || len(migs) == 0 {
		t.Errorf("expected embedded fallback, got %d, %v", len(migs), err)
	}
}

func TestNewLogger(t *testing.T) {
	// Before config loads there is no config; the logger must still work.
	fallback := newLogger(nil)
	if fallback.GetLevel() == zerolog.Disabled {
		t.Error("expected the fallback logger to be enabled")
	}
	dev := newLogger(&config.Config{Env: "development"})
	if dev.GetLevel() == zerolog.Disabled {
		t.Error("expected the development logger to be enabled")
	}
}
