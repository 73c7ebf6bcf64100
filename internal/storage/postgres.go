package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/dshills/roomscan-mcp/pkg/types"
)

// PostgresBuildMode identifies the pgvector backend in status reports.
const PostgresBuildMode = "pgvector"

// postgresMigrations mirror AllMigrations for Postgres. The embedding column
// is sized when the migration runs, hence the format verb.
var postgresMigrations = []Migration{
	{
		Version: "1.0.0",
		Up: `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scans (
    id TEXT PRIMARY KEY,
    image_url TEXT NOT NULL,
    description TEXT,
    room_label TEXT,
    detected_objects JSONB NOT NULL DEFAULT '[]'::jsonb,
    embedding vector(%d),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    analyzed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_scans_created ON scans (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_scans_room ON scans (lower(room_label));
CREATE INDEX IF NOT EXISTS idx_scans_embedding ON scans USING hnsw (embedding vector_cosine_ops);
`,
		Down: `
DROP TABLE IF EXISTS scans;
DROP TABLE IF EXISTS schema_version;
`,
	},
}

// PostgresStorage implements Storage on Postgres with the pgvector extension.
// Detected objects live in a JSONB array on the scan row, so SaveAnalysis is
// a single UPDATE.
type PostgresStorage struct {
	db        *sql.DB
	dimension int
	now       func() time.Time
}

// NewPostgresStorage connects to dsn and applies migrations. dimension fixes
// the size of the embedding column on first run.
func NewPostgresStorage(ctx context.Context, dsn string, dimension int) (*PostgresStorage, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dimension)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := applyPostgresMigrations(ctx, db, dimension); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &PostgresStorage{db: db, dimension: dimension, now: time.Now}, nil
}

func applyPostgresMigrations(ctx context.Context, db *sql.DB, dimension int) error {
	current := semver.MustParse("0.0.0")

	var exists bool
	err := db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'schema_version')").Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	}
	if exists {
		rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
		if err != nil {
			return fmt.Errorf("failed to read schema_version: %w", err)
		}
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				_ = rows.Close()
				return err
			}
			v, err := semver.NewVersion(raw)
			if err != nil {
				_ = rows.Close()
				return fmt.Errorf("invalid schema version %s: %w", raw, err)
			}
			if v.GreaterThan(current) {
				current = v
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}
	}

	for _, migration := range postgresMigrations {
		v := semver.MustParse(migration.Version)
		if !current.LessThan(v) {
			continue
		}
		up := migration.Up
		if strings.Contains(up, "%d") {
			up = fmt.Sprintf(up, dimension)
		}
		if _, err := db.ExecContext(ctx, up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES ($1)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}
		current = v
	}
	return nil
}

// Close closes the database connection
func (p *PostgresStorage) Close() error {
	return p.db.Close()
}

const pgScanColumns = `id, image_url, description, room_label, detected_objects, embedding, created_at, analyzed_at`

func pgScanRow(r rowScanner) (*types.Scan, error) {
	var scan types.Scan
	var description, room sql.NullString
	var objects []byte
	var embedding *pgvector.Vector
	var analyzedAt sql.NullTime

	if err := r.Scan(&scan.ID, &scan.ImageURL, &description, &room, &objects, &embedding, &scan.CreatedAt, &analyzedAt); err != nil {
		return nil, err
	}

	scan.Description = description.String
	scan.RoomLabel = room.String
	scan.CreatedAt = scan.CreatedAt.UTC()
	if embedding != nil {
		scan.Embedding = embedding.Slice()
	}
	if analyzedAt.Valid {
		t := analyzedAt.Time.UTC()
		scan.AnalyzedAt = &t
	}

	scan.DetectedObjects = []types.DetectedObject{}
	if len(objects) > 0 {
		if err := json.Unmarshal(objects, &scan.DetectedObjects); err != nil {
			return nil, fmt.Errorf("failed to decode detected objects for %s: %w", scan.ID, err)
		}
	}
	return &scan, nil
}

func (p *PostgresStorage) CreateScan(ctx context.Context, scan *types.Scan) error {
	if scan.ID == "" {
		return errors.New("scan id is required")
	}
	if scan.CreatedAt.IsZero() {
		scan.CreatedAt = p.now().UTC()
	}

	result, err := p.db.ExecContext(ctx, `
		INSERT INTO scans (id, image_url, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, scan.ID, scan.ImageURL, scan.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create scan: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("scan %s: %w", scan.ID, ErrAlreadyExists)
	}
	return nil
}

func (p *PostgresStorage) GetScan(ctx context.Context, id string) (*types.Scan, error) {
	scan, err := pgScanRow(p.db.QueryRowContext(ctx, `SELECT `+pgScanColumns+` FROM scans WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}
	return scan, nil
}

func (p *PostgresStorage) SaveAnalysis(ctx context.Context, id string, analysis *types.Analysis) error {
	if err := analysis.Validate(); err != nil {
		return fmt.Errorf("invalid analysis for scan %s: %w", id, err)
	}
	if len(analysis.Embedding) != p.dimension {
		return fmt.Errorf("invalid analysis for scan %s: %w: got %d, column holds %d",
			id, types.ErrDimensionMismatch, len(analysis.Embedding), p.dimension)
	}

	objects := analysis.DetectedObjects
	if objects == nil {
		objects = []types.DetectedObject{}
	}
	payload, err := json.Marshal(objects)
	if err != nil {
		return fmt.Errorf("failed to encode detected objects: %w", err)
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE scans
		SET description = $1, room_label = $2, detected_objects = $3, embedding = $4, analyzed_at = $5
		WHERE id = $6
	`, analysis.Description, analysis.RoomLabel, payload, pgvector.NewVector(analysis.Embedding), p.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update scan: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("scan %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *PostgresStorage) LatestDefiniteScan(ctx context.Context, excludeID string, ambiguous []string) (*types.Scan, error) {
	query := `
		SELECT ` + pgScanColumns + `
		FROM scans
		WHERE analyzed_at IS NOT NULL
		  AND id <> $1
		  AND room_label IS NOT NULL
		  AND btrim(room_label) <> ''
	`
	args := []interface{}{excludeID}
	if len(ambiguous) > 0 {
		marks := make([]string, len(ambiguous))
		for i, label := range ambiguous {
			args = append(args, label)
			marks[i] = "$" + strconv.Itoa(len(args))
		}
		query += " AND room_label NOT IN (" + strings.Join(marks, ", ") + ")"
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT 1"

	scan, err := pgScanRow(p.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest scan: %w", err)
	}
	return scan, nil
}

// SearchScenes ranks by pgvector cosine distance (<=>). Similarity is
// 1 - distance, matching cosineSimilarity.
func (p *PostgresStorage) SearchScenes(ctx context.Context, vector []float32, query SceneQuery) ([]SceneMatch, error) {
	if query.Limit <= 0 || len(vector) == 0 {
		return []SceneMatch{}, nil
	}
	if len(vector) != p.dimension {
		return []SceneMatch{}, nil
	}

	sqlQuery := `
		SELECT ` + pgScanColumns + `, 1 - (embedding <=> $1) AS similarity
		FROM scans
		WHERE embedding IS NOT NULL
		  AND 1 - (embedding <=> $1) >= $2
		  AND ($3 = '' OR lower(room_label) = lower($3))
		ORDER BY embedding <=> $1, created_at DESC, id ASC
		LIMIT $4
	`
	rows, err := p.db.QueryContext(ctx, sqlQuery, pgvector.NewVector(vector), query.Threshold, query.Room, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute scene search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	matches := make([]SceneMatch, 0, query.Limit)
	for rows.Next() {
		var similarity float64
		scan, err := pgScanRow(scanWithExtra{rows, &similarity})
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		matches = append(matches, SceneMatch{Scan: scan, Similarity: similarity})
	}
	return matches, rows.Err()
}

func (p *PostgresStorage) RecentScansWithObjects(ctx context.Context, limit int, room string) ([]*types.Scan, error) {
	if limit <= 0 {
		return []*types.Scan{}, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+pgScanColumns+`
		FROM scans
		WHERE jsonb_array_length(detected_objects) > 0
		  AND ($1 = '' OR lower(room_label) = lower($1))
		ORDER BY created_at DESC, id ASC
		LIMIT $2
	`, room, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	scans := make([]*types.Scan, 0, limit)
	for rows.Next() {
		scan, err := pgScanRow(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, scan)
	}
	return scans, rows.Err()
}

func (p *PostgresStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{
		Driver:    "postgres",
		BuildMode: PostgresBuildMode,
	}

	var lastCreated sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(analyzed_at),
			COUNT(*) FILTER (WHERE jsonb_array_length(detected_objects) > 0),
			MAX(created_at)
		FROM scans
	`).Scan(&status.TotalScans, &status.AnalyzedScans, &status.ScansWithObjects, &lastCreated)
	if err != nil {
		return nil, fmt.Errorf("failed to count scans: %w", err)
	}
	if lastCreated.Valid {
		t := lastCreated.Time.UTC()
		status.LastCreatedAt = &t
	}

	var version sql.NullString
	if err := p.db.QueryRowContext(ctx,
		"SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1").Scan(&version); err == nil {
		status.SchemaVersion = version.String
	}

	var size int64
	if err := p.db.QueryRowContext(ctx, "SELECT pg_total_relation_size('scans')").Scan(&size); err == nil {
		status.SizeMB = float64(size) / (1024 * 1024)
	}

	return status, nil
}

// scanWithExtra appends trailing destinations to a row scan so pgScanRow can
// read rows that carry computed columns.
type scanWithExtra struct {
	rows  *sql.Rows
	extra *float64
}

func (s scanWithExtra) Scan(dest ...interface{}) error {
	return s.rows.Scan(append(dest, s.extra)...)
}
