package searcher

import "github.com/dshills/roomscan-mcp/pkg/types"

// DefaultMergeLimit caps the merged candidate list.
const DefaultMergeLimit = 5

// Merge unions object-level and scene-level candidates, object matches
// first, dropping repeated scan ids, capped at limit.
func Merge(objects, scenes []types.Candidate, limit int) []types.Candidate {
	if limit <= 0 {
		limit = DefaultMergeLimit
	}

	merged := make([]types.Candidate, 0, limit)
	seen := make(map[string]struct{}, limit)
	add := func(list []types.Candidate) {
		for _, c := range list {
			if len(merged) >= limit {
				return
			}
			id := c.ID()
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, c)
		}
	}

	add(objects)
	add(scenes)
	return merged
}
