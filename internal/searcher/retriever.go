package searcher

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/roomscan-mcp/internal/embedder"
	"github.com/dshills/roomscan-mcp/internal/storage"
	"github.com/dshills/roomscan-mcp/pkg/types"
)

// Retrieval defaults.
const (
	DefaultSceneThreshold   = 0.1
	DefaultSceneLimit       = 5
	DefaultObjectThreshold  = 0.5
	DefaultObjectScanWindow = 50
	DefaultObjectLimit      = 5
)

// CandidateStore is the storage surface retrieval reads from.
type CandidateStore interface {
	SearchScenes(ctx context.Context, vector []float32, query storage.SceneQuery) ([]storage.SceneMatch, error)
	RecentScansWithObjects(ctx context.Context, limit int, room string) ([]*types.Scan, error)
}

// RetrieverConfig bounds both candidate sources. Non-positive limits select
// the defaults. Thresholds are used as given, so 0 admits every non-negative
// similarity; start from DefaultRetrieverConfig for the stock thresholds.
type RetrieverConfig struct {
	SceneThreshold   float64
	SceneLimit       int
	ObjectThreshold  float64
	ObjectScanWindow int
	ObjectLimit      int
}

// DefaultRetrieverConfig returns the stock retrieval bounds.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		SceneThreshold:   DefaultSceneThreshold,
		SceneLimit:       DefaultSceneLimit,
		ObjectThreshold:  DefaultObjectThreshold,
		ObjectScanWindow: DefaultObjectScanWindow,
		ObjectLimit:      DefaultObjectLimit,
	}
}

func (c *RetrieverConfig) applyDefaults() {
	if c.SceneLimit <= 0 {
		c.SceneLimit = DefaultSceneLimit
	}
	if c.ObjectScanWindow <= 0 {
		c.ObjectScanWindow = DefaultObjectScanWindow
	}
	if c.ObjectLimit <= 0 {
		c.ObjectLimit = DefaultObjectLimit
	}
}

// Candidates holds the two ranked lists before merging.
type Candidates struct {
	Objects []types.Candidate
	Scenes  []types.Candidate
}

// CandidateRetriever runs scene-level and object-level search for a query.
type CandidateRetriever struct {
	store    CandidateStore
	embedder embedder.Embedder
	cfg      RetrieverConfig
}

// NewCandidateRetriever creates a retriever.
func NewCandidateRetriever(store CandidateStore, emb embedder.Embedder, cfg RetrieverConfig) *CandidateRetriever {
	cfg.applyDefaults()
	return &CandidateRetriever{store: store, embedder: emb, cfg: cfg}
}

// Retrieve embeds the full query and the item phrase in one batch, then runs
// both searches concurrently. Either search failing fails the retrieval.
func (r *CandidateRetriever) Retrieve(ctx context.Context, query string, dec *Decomposition) (*Candidates, error) {
	resp, err := r.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: []string{query, dec.Item}})
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", types.ErrUpstream, err)
	}
	if len(resp.Embeddings) < 2 {
		return nil, fmt.Errorf("%w: %d query embeddings for 2 inputs", types.ErrUpstreamParse, len(resp.Embeddings))
	}
	queryVec := resp.Embeddings[0].Vector
	itemVec := resp.Embeddings[1].Vector

	var out Candidates
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scenes, err := r.searchScenes(gctx, queryVec, dec.Room)
		out.Scenes = scenes
		return err
	})
	g.Go(func() error {
		objects, err := r.searchObjects(gctx, itemVec, dec.Room)
		out.Objects = objects
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *CandidateRetriever) searchScenes(ctx context.Context, vector []float32, room string) ([]types.Candidate, error) {
	matches, err := r.store.SearchScenes(ctx, vector, storage.SceneQuery{
		Threshold: r.cfg.SceneThreshold,
		Limit:     r.cfg.SceneLimit,
		Room:      room,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scene search: %w", types.ErrStorage, err)
	}

	candidates := make([]types.Candidate, len(matches))
	for i, m := range matches {
		candidates[i] = types.Candidate{Scan: m.Scan, SceneSimilarity: m.Similarity}
	}
	return candidates, nil
}

// searchObjects scores each recent scan by its single best-matching object
// label. Only scans at or above the object threshold are kept.
func (r *CandidateRetriever) searchObjects(ctx context.Context, vector []float32, room string) ([]types.Candidate, error) {
	scans, err := r.store.RecentScansWithObjects(ctx, r.cfg.ObjectScanWindow, room)
	if err != nil {
		return nil, fmt.Errorf("%w: object search: %w", types.ErrStorage, err)
	}

	candidates := make([]types.Candidate, 0, len(scans))
	for _, scan := range scans {
		label, sim := bestObjectMatch(vector, scan.DetectedObjects)
		if label == "" || sim < r.cfg.ObjectThreshold {
			continue
		}
		candidates = append(candidates, types.Candidate{
			Scan:  scan,
			Match: &types.ObjectMatch{Label: label, Similarity: sim},
		})
	}

	// Stable so that equal scores keep the store's recency order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Match.Similarity > candidates[j].Match.Similarity
	})
	if len(candidates) > r.cfg.ObjectLimit {
		candidates = candidates[:r.cfg.ObjectLimit]
	}
	return candidates, nil
}

// bestObjectMatch returns the label with the highest positive similarity to
// vector. Objects without an embedding are skipped.
func bestObjectMatch(vector []float32, objects []types.DetectedObject) (string, float64) {
	var (
		bestLabel string
		bestSim   float64
	)
	for _, obj := range objects {
		if len(obj.Embedding) == 0 {
			continue
		}
		if sim := storage.CosineSimilarity(vector, obj.Embedding); sim > bestSim {
			bestSim = sim
			bestLabel = obj.Label
		}
	}
	if bestSim > 1 {
		bestSim = 1
	}
	return bestLabel, bestSim
}
