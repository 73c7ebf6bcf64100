package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/roomscan-mcp/pkg/types"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db        *sql.DB
	now       func() time.Time
	vectorSQL bool
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	s := &SQLiteStorage{db: db, now: time.Now}
	if VectorExtensionAvailable {
		s.vectorSQL = hasVectorFunctions(context.Background(), db)
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn inside a transaction and commits only if fn succeeds.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

const scanColumns = `id, image_url, description, room_label, embedding, created_at, analyzed_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRow reads one scans row selected with scanColumns.
func scanRow(r rowScanner) (*types.Scan, error) {
	var scan types.Scan
	var description, room sql.NullString
	var embedding []byte
	var createdAt int64
	var analyzedAt sql.NullInt64

	if err := r.Scan(&scan.ID, &scan.ImageURL, &description, &room, &embedding, &createdAt, &analyzedAt); err != nil {
		return nil, err
	}

	scan.Description = description.String
	scan.RoomLabel = room.String
	if len(embedding) > 0 {
		scan.Embedding = deserializeVector(embedding)
	}
	scan.CreatedAt = time.Unix(0, createdAt).UTC()
	if analyzedAt.Valid {
		t := time.Unix(0, analyzedAt.Int64).UTC()
		scan.AnalyzedAt = &t
	}
	return &scan, nil
}

// Scan operations

func (s *SQLiteStorage) CreateScan(ctx context.Context, scan *types.Scan) error {
	if scan.ID == "" {
		return errors.New("scan id is required")
	}
	if scan.CreatedAt.IsZero() {
		scan.CreatedAt = s.now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scans (id, image_url, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, scan.ID, scan.ImageURL, scan.CreatedAt.UnixNano())
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

func (s *SQLiteStorage) GetScan(ctx context.Context, id string) (*types.Scan, error) {
	scan, err := scanRow(s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}

	if err := s.attachObjects(ctx, s.db, []*types.Scan{scan}); err != nil {
		return nil, err
	}
	return scan, nil
}

func (s *SQLiteStorage) SaveAnalysis(ctx context.Context, id string, analysis *types.Analysis) error {
	if err := analysis.Validate(); err != nil {
		return fmt.Errorf("invalid analysis for scan %s: %w", id, err)
	}
	analyzedAt := s.now().UTC().UnixNano()

	return s.withTx(ctx, func(q querier) error {
		result, err := q.ExecContext(ctx, `
			UPDATE scans
			SET description = ?, room_label = ?, embedding = ?, object_count = ?, analyzed_at = ?
			WHERE id = ?
		`, analysis.Description, analysis.RoomLabel, serializeVector(analysis.Embedding),
			len(analysis.DetectedObjects), analyzedAt, id)
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

		if _, err := q.ExecContext(ctx, "DELETE FROM scan_objects WHERE scan_id = ?", id); err != nil {
			return fmt.Errorf("failed to clear objects: %w", err)
		}
		for i, obj := range analysis.DetectedObjects {
			_, err := q.ExecContext(ctx,
				"INSERT INTO scan_objects (scan_id, position, label, vector) VALUES (?, ?, ?, ?)",
				id, i, obj.Label, serializeVector(obj.Embedding))
			if err != nil {
				return fmt.Errorf("failed to insert object %q: %w", obj.Label, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStorage) LatestDefiniteScan(ctx context.Context, excludeID string, ambiguous []string) (*types.Scan, error) {
	query := `
		SELECT ` + scanColumns + `
		FROM scans
		WHERE analyzed_at IS NOT NULL
		  AND id <> ?
		  AND room_label IS NOT NULL
		  AND TRIM(room_label) <> ''
	`
	args := []interface{}{excludeID}
	if len(ambiguous) > 0 {
		query += " AND room_label NOT IN (" + placeholders(len(ambiguous)) + ")"
		for _, label := range ambiguous {
			args = append(args, label)
		}
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT 1"

	scan, err := scanRow(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest scan: %w", err)
	}
	return scan, nil
}

// Search operations

func (s *SQLiteStorage) SearchScenes(ctx context.Context, vector []float32, query SceneQuery) ([]SceneMatch, error) {
	if query.Limit <= 0 || len(vector) == 0 {
		return []SceneMatch{}, nil
	}

	hits, err := searchScenes(ctx, s.db, s.vectorSQL, vector, query)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	scans, err := s.loadScans(ctx, ids)
	if err != nil {
		return nil, err
	}

	matches := make([]SceneMatch, 0, len(hits))
	for _, h := range hits {
		if scan, ok := scans[h.id]; ok {
			matches = append(matches, SceneMatch{Scan: scan, Similarity: h.score})
		}
	}
	return matches, nil
}

func (s *SQLiteStorage) RecentScansWithObjects(ctx context.Context, limit int, room string) ([]*types.Scan, error) {
	if limit <= 0 {
		return []*types.Scan{}, nil
	}

	query := `
		SELECT ` + scanColumns + `
		FROM scans
		WHERE object_count > 0
	`
	var args []interface{}
	if room != "" {
		query += " AND room_label = ? COLLATE NOCASE"
		args = append(args, room)
	}
	query += " ORDER BY created_at DESC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	scans := make([]*types.Scan, 0, limit)
	for rows.Next() {
		scan, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, scan)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachObjects(ctx, s.db, scans); err != nil {
		return nil, err
	}
	return scans, nil
}

// loadScans fetches full scans by id, objects included.
func (s *SQLiteStorage) loadScans(ctx context.Context, ids []string) (map[string]*types.Scan, error) {
	out := make(map[string]*types.Scan, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load scans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	list := make([]*types.Scan, 0, len(ids))
	for rows.Next() {
		scan, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out[scan.ID] = scan
		list = append(list, scan)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachObjects(ctx, s.db, list); err != nil {
		return nil, err
	}
	return out, nil
}

// attachObjects fills DetectedObjects for each scan in stored order.
func (s *SQLiteStorage) attachObjects(ctx context.Context, q querier, scans []*types.Scan) error {
	if len(scans) == 0 {
		return nil
	}

	byID := make(map[string]*types.Scan, len(scans))
	args := make([]interface{}, 0, len(scans))
	for _, scan := range scans {
		scan.DetectedObjects = []types.DetectedObject{}
		byID[scan.ID] = scan
		args = append(args, scan.ID)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT scan_id, label, vector
		FROM scan_objects
		WHERE scan_id IN (`+placeholders(len(args))+`)
		ORDER BY scan_id, position
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to load objects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var scanID, label string
		var vector []byte
		if err := rows.Scan(&scanID, &label, &vector); err != nil {
			return err
		}
		scan := byID[scanID]
		scan.DetectedObjects = append(scan.DetectedObjects, types.DetectedObject{
			Label:     label,
			Embedding: deserializeVector(vector),
		})
	}
	return rows.Err()
}

// Status operations

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{
		Driver:    DriverName,
		BuildMode: BuildMode,
	}

	var lastCreated sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(analyzed_at),
			COALESCE(SUM(CASE WHEN object_count > 0 THEN 1 ELSE 0 END), 0),
			MAX(created_at)
		FROM scans
	`).Scan(&status.TotalScans, &status.AnalyzedScans, &status.ScansWithObjects, &lastCreated)
	if err != nil {
		return nil, fmt.Errorf("failed to count scans: %w", err)
	}
	if lastCreated.Valid {
		t := time.Unix(0, lastCreated.Int64).UTC()
		status.LastCreatedAt = &t
	}

	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version

	// Calculate database size
	var pageCount, pageSize int
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.SizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	return status, nil
}

// placeholders returns n comma-separated "?" markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
