package galaxy

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func seedTestIndex(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "galaxy.db")
	seed, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("failed to open seed db: %v", err)
	}
	defer seed.Close()

	_, err = seed.Exec(`
		CREATE TABLE systems (name TEXT PRIMARY KEY, x REAL, y REAL, z REAL);
		CREATE INDEX idx_systems_coords ON systems (x, y, z);
		INSERT INTO systems (name, x, y, z) VALUES
			('Wolf 359', 7.78, 3.69, 6.34),
			('Sol', 0, 0, 0),
			('Lave', -20, 30, 10);
	`)
	if err != nil {
		t.Fatalf("failed to seed galaxy index: %v", err)
	}
	return path
}

func TestCoordsCaseInsensitive(t *testing.T) {
	path := seedTestIndex(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	x, y, z, ok, err := db.Coords("wolf 359")
	if err != nil {
		t.Fatalf("Coords failed: %v", err)
	}
	if !ok {
		t.Fatal("expected system to be found")
	}
	if x != 7.78 || y != 3.69 || z != 6.34 {
		t.Errorf("got (%v,%v,%v), want (7.78,3.69,6.34)", x, y, z)
	}

	_, _, _, ok, err = db.Coords("Nonexistent System XYZ")
	if err != nil {
		t.Fatalf("Coords failed: %v", err)
	}
	if ok {
		t.Error("expected system not to be found")
	}
}

func TestSystemsInBBox(t *testing.T) {
	path := seedTestIndex(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	systems, err := db.SystemsInBBox(0, 0, 0, 10)
	if err != nil {
		t.Fatalf("SystemsInBBox failed: %v", err)
	}
	names := map[string]bool{}
	for _, s := range systems {
		names[s.Name] = true
	}
	if !names["Sol"] || !names["Wolf 359"] {
		t.Errorf("expected Sol and Wolf 359 within bbox, got %v", names)
	}
	if names["Lave"] {
		t.Errorf("Lave should be outside the 10 ly half-side box, got %v", names)
	}
}
