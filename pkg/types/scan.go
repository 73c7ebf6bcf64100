package types

import (
	"time"
)

// DetectedObject is one unique object label found in a photo together with
// the embedding of that label.
type DetectedObject struct {
	Label     string    `json:"label"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Scan is the persisted record for one photographed space.
//
// Description, RoomLabel, DetectedObjects and Embedding stay empty until
// ingestion completes. Retrieval skips scans without an Embedding.
type Scan struct {
	ID              string           `json:"id"`
	ImageURL        string           `json:"image_url"`
	Description     string           `json:"description,omitempty"`
	RoomLabel       string           `json:"room_label,omitempty"`
	DetectedObjects []DetectedObject `json:"detected_objects,omitempty"`
	Embedding       []float32        `json:"embedding,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	AnalyzedAt      *time.Time       `json:"analyzed_at,omitempty"`
}

// Analyzed reports whether ingestion has written the scan's analysis.
func (s *Scan) Analyzed() bool {
	return s.AnalyzedAt != nil
}

// Labels returns the detected object labels in stored order.
func (s *Scan) Labels() []string {
	labels := make([]string, len(s.DetectedObjects))
	for i, obj := range s.DetectedObjects {
		labels[i] = obj.Label
	}
	return labels
}

// Analysis is the set of fields ingestion writes in a single update.
type Analysis struct {
	Description     string
	RoomLabel       string
	DetectedObjects []DetectedObject
	Embedding       []float32
}

// Validate checks what a completed analysis must hold.
func (a *Analysis) Validate() error {
	if a.RoomLabel == "" {
		return ErrEmptyRoomLabel
	}
	if len(a.Embedding) == 0 {
		return ErrMissingEmbedding
	}

	seen := make(map[string]struct{}, len(a.DetectedObjects))
	for _, obj := range a.DetectedObjects {
		if _, dup := seen[obj.Label]; dup {
			return ErrDuplicateLabel
		}
		seen[obj.Label] = struct{}{}
		if len(obj.Embedding) != len(a.Embedding) {
			return ErrDimensionMismatch
		}
	}
	return nil
}
