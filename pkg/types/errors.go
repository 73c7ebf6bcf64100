package types

import "errors"

// Pipeline error taxonomy. Callers wrap these with %w and test with errors.Is.
var (
	// ErrInput marks a request missing a required field (client error).
	ErrInput = errors.New("invalid input")

	// ErrUpstreamParse marks a model response that does not match its schema.
	ErrUpstreamParse = errors.New("upstream response could not be parsed")

	// ErrUpstream marks a model call that failed at the transport level.
	ErrUpstream = errors.New("upstream call failed")

	// ErrJobFailed marks an object-detection job that reported failure.
	// Ingestion absorbs it and continues without objects.
	ErrJobFailed = errors.New("detection job failed")

	// ErrJobTimeout marks an object-detection job that never reached a
	// terminal status within the poll budget. Absorbed like ErrJobFailed.
	ErrJobTimeout = errors.New("detection job timed out")

	// ErrStorage marks a persistence or lookup failure.
	ErrStorage = errors.New("storage failure")
)

// Analysis validation errors
var (
	ErrEmptyRoomLabel    = errors.New("room label cannot be empty")
	ErrMissingEmbedding  = errors.New("scene embedding is required")
	ErrDuplicateLabel    = errors.New("detected objects contain a duplicate label")
	ErrDimensionMismatch = errors.New("embedding dimensions differ")
)
