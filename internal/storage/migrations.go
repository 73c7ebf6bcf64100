package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all SQLite migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
}

// Timestamps are unix nanoseconds so ordering survives both SQLite drivers.
const migrationV1Up = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS scans (
    id TEXT PRIMARY KEY,
    image_url TEXT NOT NULL,
    description TEXT,
    room_label TEXT,
    embedding BLOB,
    created_at INTEGER NOT NULL,
    analyzed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_scans_created ON scans(created_at);
CREATE INDEX IF NOT EXISTS idx_scans_room ON scans(room_label COLLATE NOCASE);

CREATE TABLE IF NOT EXISTS scan_objects (
    scan_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    label TEXT NOT NULL,
    vector BLOB NOT NULL,
    PRIMARY KEY (scan_id, position),
    UNIQUE (scan_id, label),
    FOREIGN KEY (scan_id) REFERENCES scans(id) ON DELETE CASCADE
);
`

const migrationV1Down = `
DROP TABLE IF EXISTS scan_objects;
DROP TABLE IF EXISTS scans;
DROP TABLE IF EXISTS schema_version;
`

// object_count lets object search skip scans without labels without a join.
const migrationV11Up = `
ALTER TABLE scans ADD COLUMN object_count INTEGER NOT NULL DEFAULT 0;
UPDATE scans SET object_count = (SELECT COUNT(*) FROM scan_objects o WHERE o.scan_id = scans.id);
CREATE INDEX IF NOT EXISTS idx_scans_objects ON scans(object_count, created_at);
`

const migrationV11Down = `
DROP INDEX IF EXISTS idx_scans_objects;
ALTER TABLE scans DROP COLUMN object_count;
`

// currentVersion returns the highest recorded schema version, or 0.0.0 on a
// fresh database.
func currentVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if errors.Is(err, sql.ErrNoRows) {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	// applied_at has second resolution, so compare versions rather than
	// trusting insertion order.
	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", raw, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}
		if !current.LessThan(migrationVersion) {
			continue
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}
		current = migrationVersion
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return errors.New("no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		if semver.MustParse(AllMigrations[i].Version).Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	// The first migration drops schema_version along with everything else.
	if migration.Version == AllMigrations[0].Version {
		return nil
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}

	return nil
}

// SchemaVersion reports the applied schema version.
func SchemaVersion(ctx context.Context, db *sql.DB) (string, error) {
	v, err := currentVersion(ctx, db)
	if err != nil {
		return "", err
	}
	return v.Original(), nil
}
