//go:build sqlite_vec
// +build sqlite_vec

package storage

// This file is compiled when building with CGO and the sqlite_vec tag.
// The sqlite-vec extension is registered for every new connection, and scene
// search then ranks inside SQLite with vec_distance_cosine.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_vec" ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable indicates if the vector extension is compiled in
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
