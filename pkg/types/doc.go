// Package types provides shared type definitions for the roomscan pipeline.
//
// This package defines the domain types passed between ingestion, storage and
// search: the persisted Scan, its detected objects, retrieval-time Candidates
// and the final SearchResult.
//
// # Core Types
//
// Scan is the record for one photographed space. Ingestion fills in the
// analysis fields in one update:
//
//	scan := &types.Scan{
//	    ID:       "5f0c...",
//	    ImageURL: "https://cdn.example.com/scans/1.jpg",
//	}
//
// Candidate wraps a Scan at query time. Object-level hits carry an
// ObjectMatch; scene-level hits do not:
//
//	c := types.Candidate{
//	    Scan:  scan,
//	    Match: &types.ObjectMatch{Label: "keys", Similarity: 0.83},
//	}
//
// # Room Labels
//
// Scene labels come from a closed enumeration. Some labels (Unknown,
// Close-up, Surface, Wall, Floor, Object) say nothing about location;
// IsAmbiguousRoom identifies them so ingestion can inherit a label from a
// recent scan instead.
//
// # Errors
//
// The pipeline error taxonomy lives here so every layer can classify
// failures with errors.Is:
//
//	if errors.Is(err, types.ErrInput) {
//	    // client error
//	}
package types
