// Package galaxy implements the read-only bulk system-coordinate index
// (component C2): a large, bundled, never-mutated mapping from star system
// name to (x, y, z) position, indexed for fast axis-aligned bounding-box
// queries. It backs both the ring finder (C7) and the data-quality
// migrations in the hotspot store that need to recognize a known system
// name.
package galaxy

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/eliteminer/core/internal/logging"
)

// DB wraps a read-only *sql.DB holding the bundled galaxy coordinate index.
type DB struct {
	*sql.DB
}

// Open opens the galaxy index at path in read-only mode. The index is a
// bundled artifact produced out of band (not by this package); Open never
// creates or migrates a schema, it only verifies the expected table exists.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&immutable=1", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open galaxy index: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA query_only = ON"); err != nil {
		return nil, fmt.Errorf("failed to set galaxy index read-only: %w", err)
	}

	db := &DB{sqlDB}
	var exists bool
	err = sqlDB.QueryRow(`
		SELECT COUNT(*) > 0 FROM sqlite_master WHERE type='table' AND name='systems'
	`).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to verify galaxy index schema: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("galaxy index at %s has no systems table", path)
	}
	logging.WithComponent("galaxy").WithField("path", path).Info("opened galaxy index")
	return db, nil
}

// System is one coordinate record from the galaxy index.
type System struct {
	Name    string
	X, Y, Z float64
}

// Coords returns the (x, y, z) position of name, matched case-insensitively,
// or ok=false if the system is not present in the index.
func (db *DB) Coords(name string) (x, y, z float64, ok bool, err error) {
	err = db.QueryRow(`
		SELECT x, y, z FROM systems WHERE name = ? COLLATE NOCASE LIMIT 1
	`, name).Scan(&x, &y, &z)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, 0, false, fmt.Errorf("failed to query coords for %q: %w", name, err)
	}
	return x, y, z, true, nil
}

// SystemsInBBox returns every system whose coordinates lie within the
// axis-aligned cube of half-side r centered at (cx, cy, cz). This is the hot
// path for the ring finder (C7): it is a cheap pre-filter backed by the
// (x,y,z) index, and the caller is responsible for the precise Euclidean
// distance check on the returned candidates.
func (db *DB) SystemsInBBox(cx, cy, cz, r float64) ([]System, error) {
	rows, err := db.Query(`
		SELECT name, x, y, z FROM systems
		WHERE x BETWEEN ? AND ?
		  AND y BETWEEN ? AND ?
		  AND z BETWEEN ? AND ?
	`, cx-r, cx+r, cy-r, cy+r, cz-r, cz+r)
	if err != nil {
		return nil, fmt.Errorf("failed to query systems in bounding box: %w", err)
	}
	defer rows.Close()

	var out []System
	for rows.Next() {
		var s System
		if err := rows.Scan(&s.Name, &s.X, &s.Y, &s.Z); err != nil {
			return nil, fmt.Errorf("failed to scan system row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
