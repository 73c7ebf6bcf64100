package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/roomscan-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
)

// Storage defines the interface for persisting and querying scans
type Storage interface {
	// Scan operations
	CreateScan(ctx context.Context, scan *types.Scan) error
	GetScan(ctx context.Context, id string) (*types.Scan, error)

	// SaveAnalysis writes description, room label, detected objects and the
	// scene embedding of one scan in a single transaction. Nothing is
	// written when it fails.
	SaveAnalysis(ctx context.Context, id string, analysis *types.Analysis) error

	// LatestDefiniteScan returns the most recently created analyzed scan
	// whose room label is not in ambiguous, skipping excludeID.
	// ErrNotFound means no such scan exists.
	LatestDefiniteScan(ctx context.Context, excludeID string, ambiguous []string) (*types.Scan, error)

	// Search operations
	SearchScenes(ctx context.Context, vector []float32, query SceneQuery) ([]SceneMatch, error)
	RecentScansWithObjects(ctx context.Context, limit int, room string) ([]*types.Scan, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
}

// SceneQuery narrows a scene-level similarity search.
type SceneQuery struct {
	Threshold float64 // minimum cosine similarity, inclusive
	Limit     int
	Room      string // empty matches every room; compared case-insensitively
}

// SceneMatch is one scan returned by SearchScenes.
type SceneMatch struct {
	Scan       *types.Scan
	Similarity float64
}

// Status contains statistics about the stored scans
type Status struct {
	Driver           string
	BuildMode        string
	SchemaVersion    string
	TotalScans       int
	AnalyzedScans    int
	ScansWithObjects int
	LastCreatedAt    *time.Time
	SizeMB           float64
}

var (
	_ Storage = (*SQLiteStorage)(nil)
	_ Storage = (*PostgresStorage)(nil)
)
