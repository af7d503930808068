// Package hotspot implements the persistent, deduplicating, self-healing
// record of rings and their material hotspots (component C3 of the design).
// It owns the mutable SQLite store, its schema migrations, and the
// multi-stage data-quality migration pipeline that merges data from
// heterogeneous sources without destroying user-entered data.
package hotspot

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"

	_ "modernc.org/sqlite"

	"github.com/eliteminer/core/internal/logging"
)

// DB wraps a *sql.DB holding the hotspot store.
type DB struct {
	*sql.DB
}

// schema.sql contains the full table/index set for a fresh install. It must
// stay in sync with the latest migration version; Open verifies this by
// comparing the schema it produces against what migrations would produce,
// exactly as the teacher's bootstrap does, and refuses to baseline silently
// if they disagree.
//
//go:embed schema.sql
var schemaSQL string

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DevMode selects local-filesystem migrations (for hot-reloading during
// development) over the embedded copy shipped in the binary.
var DevMode = false

func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		return os.DirFS("internal/hotspot/migrations"), nil
	}
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create sub-filesystem for embedded migrations directory %q: %w", "migrations", err)
	}
	return sub, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Open opens (or creates) the hotspot store at path and ensures its schema
// is at the latest migration version, baselining a fresh database against
// schema.sql or prompting the caller to run migrations on a stale one.
func Open(path string) (*DB, error) {
	return OpenWithMigrationCheck(path, true)
}

// OpenWithMigrationCheck opens the database and optionally checks for
// pending schema migrations. If checkMigrations is true and migrations are
// pending, it returns an error asking the caller to run them explicitly
// rather than silently mutating the schema underneath a running process.
func OpenWithMigrationCheck(path string, checkMigrations bool) (*DB, error) {
	log := logging.WithComponent("hotspot")

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db := &DB{sqlDB}

	if err := applyPragmas(sqlDB); err != nil {
		return nil, fmt.Errorf("failed to apply PRAGMAs: %w", err)
	}

	var schemaMigrationsExists bool
	err = sqlDB.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_migrations'
	`).Scan(&schemaMigrationsExists)
	if err != nil {
		return nil, fmt.Errorf("failed to check for schema_migrations table: %w", err)
	}

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		return nil, fmt.Errorf("failed to get migrations filesystem: %w", err)
	}

	if schemaMigrationsExists {
		if checkMigrations {
			shouldExit, err := db.CheckAndPromptMigrations(migrationsFS)
			if shouldExit {
				return nil, err
			}
		}
		return db, nil
	}

	var tableCount int
	err = sqlDB.QueryRow(`
		SELECT COUNT(*)
		FROM sqlite_master
		WHERE type='table' AND name NOT LIKE 'sqlite_%'
	`).Scan(&tableCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count tables: %w", err)
	}

	if tableCount > 0 && checkMigrations {
		log.Warn("database exists but has no schema_migrations table; attempting schema detection")
		detectedVersion, matchScore, differences, err := db.DetectSchemaVersion(migrationsFS)
		if err != nil {
			return nil, fmt.Errorf("failed to detect schema version: %w", err)
		}
		if matchScore != 100 {
			for _, d := range differences {
				log.Warn(d)
			}
			return nil, fmt.Errorf("schema does not match any known version (best match: v%d at %d%%). manual intervention required", detectedVersion, matchScore)
		}
		if err := db.BaselineAtVersion(detectedVersion); err != nil {
			return nil, fmt.Errorf("failed to baseline at version %d: %w", detectedVersion, err)
		}
		latestVersion, err := GetLatestMigrationVersion(migrationsFS)
		if err != nil {
			return nil, fmt.Errorf("failed to get latest version: %w", err)
		}
		if detectedVersion < latestVersion {
			return nil, fmt.Errorf("database baselined at version %d, but migrations to version %d are available; run migrate up", detectedVersion, latestVersion)
		}
		return db, nil
	}

	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	log.Info("ran database initialization script")

	latestVersion, err := GetLatestMigrationVersion(migrationsFS)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest migration version: %w", err)
	}

	schemaFromSQL, err := db.GetDatabaseSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to get schema from schema.sql: %w", err)
	}
	schemaFromMigrations, err := db.GetSchemaAtMigration(migrationsFS, latestVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to get schema at migration v%d: %w", latestVersion, err)
	}
	score, differences := CompareSchemas(schemaFromSQL, schemaFromMigrations)
	if score != 100 {
		for _, d := range differences {
			log.Warn(d)
		}
		return nil, fmt.Errorf("schema.sql is out of sync with migration v%d (similarity: %d%%). cannot baseline safely", latestVersion, score)
	}

	if err := db.BaselineAtVersion(latestVersion); err != nil {
		return nil, fmt.Errorf("failed to baseline fresh database at version %d: %w", latestVersion, err)
	}

	return db, nil
}

// OpenWithoutMigrationCheck opens a connection with PRAGMAs applied but
// without running schema initialization or version checks. Migration
// commands use this since they manage the schema independently.
func OpenWithoutMigrationCheck(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := applyPragmas(sqlDB); err != nil {
		return nil, fmt.Errorf("failed to apply PRAGMAs: %w", err)
	}
	return &DB{sqlDB}, nil
}
