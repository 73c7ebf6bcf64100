package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/dshills/roomscan-mcp/pkg/types"
)

// Record is the scan stub carried by a scan-created event.
type Record struct {
	ID        string     `json:"id"`
	ImageURL  string     `json:"image_url"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Event is the trigger payload: {"record": {...}}. Extra fields sent by
// database webhooks (type, table, schema) are ignored.
type Event struct {
	Record Record `json:"record"`
}

// Validate rejects records ingestion cannot start from.
func (r Record) Validate() error {
	if strings.TrimSpace(r.ImageURL) == "" {
		return fmt.Errorf("%w: missing image_url", types.ErrInput)
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: missing id", types.ErrInput)
	}
	return nil
}

// RecordFromScan builds the event record for a stored scan.
func RecordFromScan(scan *types.Scan) Record {
	created := scan.CreatedAt
	return Record{ID: scan.ID, ImageURL: scan.ImageURL, CreatedAt: &created}
}
