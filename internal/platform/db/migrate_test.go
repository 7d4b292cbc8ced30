package db

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadMigrationsSortsByVersion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "010_reports.sql", "CREATE TABLE r (id INT);")
	writeFile(t, dir, "001_core.sql", "CREATE TABLE d (id INT);")
	writeFile(t, dir, "002_appointments.sql", "CREATE TABLE a (id INT);")

	m := NewMigrator(nil, dir)
	migs, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}

	if len(migs) != 3 {
		t.Fatalf("got %d migrations, want 3", len(migs))
	}
	want := []int{1, 2, 10}
	for i, w := range want {
		if migs[i].Version != w {
			t.Errorf("migs[%d].Version = %d, want %d", i, migs[i].Version, w)
		}
	}
}

func TestLoadMigrationsSkipsNonNumericAndNonSQL(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "001_core.sql", "SELECT 1;")
	writeFile(t, dir, "README.md", "not sql")
	writeFile(t, dir, "abc_bad.sql", "SELECT 2;")
	writeFile(t, dir, "nounderscore.sql", "SELECT 3;")

	m := NewMigrator(nil, dir)
	migs, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migs) != 1 {
		t.Fatalf("got %d migrations, want 1", len(migs))
	}
	if migs[0].Name != "001_core.sql" {
		t.Errorf("Name = %q", migs[0].Name)
	}
}

func TestLoadMigrationsMissingDir(t *testing.T) {
	m := NewMigrator(nil, "/nonexistent/migrations")
	if _, err := m.LoadMigrations(); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
