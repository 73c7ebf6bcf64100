//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// This file is compiled when building without CGO or with the purego tag.
// Scene similarity is computed in Go over every embedded scan, which is
// fine for a household's worth of photos.
//
// Build command:
//   CGO_ENABLED=0 go build -tags "purego" ./...
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates if the vector extension is compiled in
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
