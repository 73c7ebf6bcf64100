package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// sceneHit is a scan id with its scene similarity
type sceneHit struct {
	id        string
	createdAt int64
	score     float64
}

// searchScenes performs scene similarity search using cosine similarity.
// vectorSQL selects the sqlite-vec query; it is set only when the
// connection actually answers vec_version().
func searchScenes(ctx context.Context, db *sql.DB, vectorSQL bool, queryVector []float32, q SceneQuery) ([]sceneHit, error) {
	if vectorSQL {
		return searchScenesOptimized(ctx, db, queryVector, q)
	}
	return searchScenesFallback(ctx, db, queryVector, q)
}

// hasVectorFunctions reports whether the sqlite-vec functions are loaded on db.
func hasVectorFunctions(ctx context.Context, db *sql.DB) bool {
	var version string
	if err := db.QueryRowContext(ctx, "SELECT vec_version()").Scan(&version); err != nil {
		return false
	}
	return version != ""
}

// searchScenesOptimized uses the sqlite-vec extension to rank inside SQLite
func searchScenesOptimized(ctx context.Context, db *sql.DB, queryVector []float32, q SceneQuery) ([]sceneHit, error) {
	blob := serializeVector(queryVector)

	// vec_distance_cosine returns distance (lower is better); convert to similarity.
	query := `
		SELECT id, created_at, 1.0 - vec_distance_cosine(embedding, ?) AS similarity
		FROM scans
		WHERE embedding IS NOT NULL
		  AND length(embedding) = ?
		  AND (1.0 - vec_distance_cosine(embedding, ?)) >= ?
	`
	args := []interface{}{blob, len(blob), blob, q.Threshold}
	if q.Room != "" {
		query += " AND room_label = ? COLLATE NOCASE"
		args = append(args, q.Room)
	}
	query += " ORDER BY similarity DESC, created_at DESC, id ASC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute scene search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]sceneHit, 0, q.Limit)
	for rows.Next() {
		var h sceneHit
		if err := rows.Scan(&h.id, &h.createdAt, &h.score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// searchScenesFallback computes cosine similarity in Go for purego builds
func searchScenesFallback(ctx context.Context, db *sql.DB, queryVector []float32, q SceneQuery) ([]sceneHit, error) {
	query := `SELECT id, created_at, embedding FROM scans WHERE embedding IS NOT NULL`
	var args []interface{}
	if q.Room != "" {
		query += " AND room_label = ? COLLATE NOCASE"
		args = append(args, q.Room)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]sceneHit, 0, 256)
	for rows.Next() {
		var h sceneHit
		var blob []byte
		if err := rows.Scan(&h.id, &h.createdAt, &blob); err != nil {
			return nil, err
		}

		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}
		h.score = cosineSimilarity(queryVector, vector)
		if h.score < q.Threshold {
			continue
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortHits(hits)
	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

// sortHits orders by similarity, newest first on ties, then id, so the
// result does not depend on row order.
func sortHits(hits []sceneHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if hits[i].createdAt != hits[j].createdAt {
			return hits[i].createdAt > hits[j].createdAt
		}
		return hits[i].id < hits[j].id
	})
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Mismatched lengths, empty vectors and zero-norm vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is the similarity measure shared by storage and the
// object-level retriever.
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
