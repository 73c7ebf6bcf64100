// Package storage persists scans and answers the nearest-neighbour queries
// retrieval needs.
//
// Two backends implement Storage:
//   - SQLiteStorage: the default. Pure Go (modernc.org/sqlite) unless built
//     with the sqlite_vec tag, which switches to mattn/go-sqlite3 and ranks
//     scene vectors inside SQLite.
//   - PostgresStorage: pgvector with an HNSW cosine index. Detected objects
//     are a JSONB array on the scan row.
//
// # Database Schema (SQLite)
//
// Tables:
//   - scans: one row per photo. embedding is a little-endian float32 blob;
//     created_at and analyzed_at are unix nanoseconds.
//   - scan_objects: one row per unique label, ordered by position.
//   - schema_version: applied migrations, compared as semver.
//
// # Atomic analysis
//
// SaveAnalysis replaces the description, room label, scene embedding and the
// whole object list of one scan in a single transaction:
//
//	err := store.SaveAnalysis(ctx, scanID, &types.Analysis{
//	    Description:     desc,
//	    RoomLabel:       "Kitchen",
//	    DetectedObjects: objects,
//	    Embedding:       sceneVector,
//	})
//
// # Similarity
//
// Both backends score with cosine similarity; thresholds are inclusive.
// Scene results are ordered by similarity, then newest first, then id, so a
// repeated query over unchanged data returns the same order.
package storage
