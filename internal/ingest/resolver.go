package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/roomscan-mcp/internal/storage"
	"github.com/dshills/roomscan-mcp/pkg/types"
)

// DefaultInheritWindow is how recent a prior scan must be to lend its room.
const DefaultInheritWindow = 10 * time.Minute

// Room resolution paths, also used as metric labels.
const (
	RoomFromModel     = "model"
	RoomInherited     = "inherited"
	RoomFromAmbiguous = "ambiguous"
)

// PriorScanFinder looks up the newest scan with a definite room.
type PriorScanFinder interface {
	LatestDefiniteScan(ctx context.Context, excludeID string, ambiguous []string) (*types.Scan, error)
}

// Resolution is the final room label and how it was chosen.
type Resolution struct {
	Label         string
	Source        string
	InheritedFrom string // prior scan id when Source is RoomInherited
}

// RoomLabelResolver replaces ambiguous room labels with the room of a
// recent prior scan, assuming close-ups are taken in quick succession
// without changing rooms.
type RoomLabelResolver struct {
	finder PriorScanFinder
	window time.Duration
	now    func() time.Time
}

// NewRoomLabelResolver creates a resolver. A non-positive window turns
// inheritance off; a nil now uses time.Now.
func NewRoomLabelResolver(finder PriorScanFinder, window time.Duration, now func() time.Time) *RoomLabelResolver {
	if now == nil {
		now = time.Now
	}
	return &RoomLabelResolver{finder: finder, window: window, now: now}
}

// Resolve decides the final label for scanID given the model's proposal.
//
// A definite proposal is kept. An empty or ambiguous one inherits the label
// of the single most recent definite scan when that scan was created no more
// than the window before now (boundary inclusive). Otherwise the proposal
// stands, with an empty proposal recorded as types.RoomUnknown.
func (r *RoomLabelResolver) Resolve(ctx context.Context, scanID, proposed string) (Resolution, error) {
	proposed = strings.TrimSpace(proposed)
	if !types.IsAmbiguousRoom(proposed) {
		return Resolution{Label: proposed, Source: RoomFromModel}, nil
	}

	fallback := Resolution{Label: proposed, Source: RoomFromAmbiguous}
	if fallback.Label == "" {
		fallback.Label = types.RoomUnknown
	}
	if r.window <= 0 {
		return fallback, nil
	}

	prior, err := r.finder.LatestDefiniteScan(ctx, scanID, types.AmbiguousRooms)
	if errors.Is(err, storage.ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("%w: find prior scan: %w", types.ErrStorage, err)
	}

	if r.now().Sub(prior.CreatedAt) > r.window {
		return fallback, nil
	}
	return Resolution{Label: prior.RoomLabel, Source: RoomInherited, InheritedFrom: prior.ID}, nil
}
