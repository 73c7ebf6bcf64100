package searcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/roomscan-mcp/internal/embedder"
	"github.com/dshills/roomscan-mcp/internal/storage"
	"github.com/dshills/roomscan-mcp/pkg/types"
)

// stubStore returns fixed lists and records the arguments it was called with.
type stubStore struct {
	scenes  []storage.SceneMatch
	recent  []*types.Scan
	sceneQ  storage.SceneQuery
	window  int
	objRoom string
}

func (s *stubStore) SearchScenes(ctx context.Context, vector []float32, q storage.SceneQuery) ([]storage.SceneMatch, error) {
	s.sceneQ = q
	return s.scenes, nil
}

func (s *stubStore) RecentScansWithObjects(ctx context.Context, limit int, room string) ([]*types.Scan, error) {
	s.window = limit
	s.objRoom = room
	return s.recent, nil
}

func scanWith(id string, objects ...types.DetectedObject) *types.Scan {
	return &types.Scan{ID: id, ImageURL: id + ".jpg", DetectedObjects: objects}
}

func TestRetrieverPassesBounds(t *testing.T) {
	store := &stubStore{}
	r := NewCandidateRetriever(store, newEmbedder(), DefaultRetrieverConfig())

	_, err := r.Retrieve(context.Background(), keysQuery, &Decomposition{Room: "Office", Item: "keys"})
	require.NoError(t, err)

	assert.Equal(t, storage.SceneQuery{Threshold: 0.1, Limit: 5, Room: "Office"}, store.sceneQ)
	assert.Equal(t, 50, store.window)
	assert.Equal(t, "Office", store.objRoom)
}

func TestObjectSearchThreshold(t *testing.T) {
	half := []float32{1, 1, 1, 1}  // cosine 0.5 against vecC
	below := []float32{0, 2, 1, 0} // cosine ~0.447

	store := &stubStore{recent: []*types.Scan{
		scanWith("exact", obj("lamp", half)),
		scanWith("below", obj("sofa", below)),
		scanWith("none", obj("plate", vecD)),
		scanWith("no-vectors", types.DetectedObject{Label: "ghost"}),
		scanWith("wrong-dim", obj("short", []float32{1, 0})),
	}}
	r := NewCandidateRetriever(store, newEmbedder(), DefaultRetrieverConfig())

	got, err := r.Retrieve(context.Background(), keysQuery, &Decomposition{Item: "keys"})
	require.NoError(t, err)
	require.Len(t, got.Objects, 1)
	assert.Equal(t, "exact", got.Objects[0].ID())
	assert.Equal(t, "lamp", got.Objects[0].Match.Label)
	assert.InDelta(t, 0.5, got.Objects[0].Match.Similarity, 1e-9)
}

func TestRetrieverKeepsZeroThresholds(t *testing.T) {
	below := []float32{0, 2, 1, 0} // cosine ~0.447 against vecC

	store := &stubStore{recent: []*types.Scan{scanWith("below", obj("sofa", below))}}
	r := NewCandidateRetriever(store, newEmbedder(), RetrieverConfig{})

	got, err := r.Retrieve(context.Background(), keysQuery, &Decomposition{Item: "keys"})
	require.NoError(t, err)

	assert.Equal(t, storage.SceneQuery{Threshold: 0, Limit: DefaultSceneLimit}, store.sceneQ)
	require.Len(t, got.Objects, 1)
	assert.Equal(t, "below", got.Objects[0].ID())
	assert.Equal(t, DefaultObjectScanWindow, store.window)
}

func TestObjectSearchBestLabel(t *testing.T) {
	store := &stubStore{recent: []*types.Scan{
		scanWith("s1", obj("cup", []float32{0, 1, 1, 0}), obj("keys", vecC), obj("keyring", []float32{0, 0, 1, 1})),
	}}
	r := NewCandidateRetriever(store, newEmbedder(), DefaultRetrieverConfig())

	got, err := r.Retrieve(context.Background(), keysQuery, &Decomposition{Item: "keys"})
	require.NoError(t, err)
	require.Len(t, got.Objects, 1)
	assert.Equal(t, "keys", got.Objects[0].Match.Label)
	assert.InDelta(t, 1.0, got.Objects[0].Match.Similarity, 1e-9)
}

func TestObjectSearchOrderingAndCap(t *testing.T) {
	strong := []float32{0, 0, 1, 0.2}
	mid := []float32{0, 0, 1, 0.6}

	// Store order is recency order; ties must keep it.
	store := &stubStore{recent: []*types.Scan{
		scanWith("tie-newer", obj("a", mid)),
		scanWith("best", obj("b", vecC)),
		scanWith("tie-older", obj("c", mid)),
		scanWith("second", obj("d", strong)),
		scanWith("tie-oldest", obj("e", mid)),
		scanWith("overflow", obj("f", mid)),
	}}
	r := NewCandidateRetriever(store, newEmbedder(), DefaultRetrieverConfig())

	got, err := r.Retrieve(context.Background(), keysQuery, &Decomposition{Item: "keys"})
	require.NoError(t, err)
	assert.Equal(t, []string{"best", "second", "tie-newer", "tie-older", "tie-oldest"}, candidateIDs(got.Objects))

	again, err := r.Retrieve(context.Background(), keysQuery, &Decomposition{Item: "keys"})
	require.NoError(t, err)
	assert.Equal(t, got, again, "identical inputs yield identical output")
}

func TestSceneCandidatesCarrySimilarity(t *testing.T) {
	store := &stubStore{scenes: []storage.SceneMatch{
		{Scan: scanWith("s1"), Similarity: 0.9},
		{Scan: scanWith("s2"), Similarity: 0.4},
	}}
	r := NewCandidateRetriever(store, newEmbedder(), DefaultRetrieverConfig())

	got, err := r.Retrieve(context.Background(), keysQuery, &Decomposition{Item: "keys"})
	require.NoError(t, err)
	require.Len(t, got.Scenes, 2)
	assert.Equal(t, 0.9, got.Scenes[0].SceneSimilarity)
	assert.Nil(t, got.Scenes[0].Match)
	assert.False(t, got.Scenes[1].FromObjectSearch())
}

func TestRetrieverShortEmbeddingBatch(t *testing.T) {
	r := NewCandidateRetriever(&stubStore{}, &shortEmbedder{mockEmbedder: newEmbedder()}, DefaultRetrieverConfig())
	_, err := r.Retrieve(context.Background(), keysQuery, &Decomposition{Item: "keys"})
	assert.ErrorIs(t, err, types.ErrUpstreamParse)
}

func TestRetrieverIdempotentOnSQLite(t *testing.T) {
	store := setupStore(t)
	seedHome(t, store)
	seed(t, store, "hall", types.RoomLivingRoom, 2*time.Minute, []float32{1, 1, 0, 0}, obj("key hook", []float32{0, 0, 1, 1}))

	r := NewCandidateRetriever(store, newEmbedder(), DefaultRetrieverConfig())
	dec := &Decomposition{Item: "keys"}

	first, err := r.Retrieve(context.Background(), keysQuery, dec)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := r.Retrieve(context.Background(), keysQuery, dec)
		require.NoError(t, err)
		assert.Equal(t, candidateIDs(first.Objects), candidateIDs(again.Objects))
		assert.Equal(t, candidateIDs(first.Scenes), candidateIDs(again.Scenes))
	}
	assert.Equal(t, []string{"office", "hall"}, candidateIDs(first.Objects))
	assert.Equal(t, []string{"kitchen", "hall"}, candidateIDs(first.Scenes))
}

// shortEmbedder drops the last embedding of every batch.
type shortEmbedder struct {
	*mockEmbedder
}

func (s *shortEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	resp, err := s.mockEmbedder.GenerateBatch(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.Embeddings = resp.Embeddings[:len(resp.Embeddings)-1]
	return resp, nil
}
