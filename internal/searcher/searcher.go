package searcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dshills/roomscan-mcp/internal/embedder"
	"github.com/dshills/roomscan-mcp/internal/llm"
	"github.com/dshills/roomscan-mcp/internal/metrics"
	"github.com/dshills/roomscan-mcp/pkg/types"
)

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query string
	Room  string // optional explicit room; overrides the extracted one
}

// SearchResponse contains the answer and how it was reached
type SearchResponse struct {
	Result        types.SearchResult
	Room          string
	Item          string
	Candidates    []types.Candidate
	ObjectResults int
	SceneResults  int
	Judged        bool
	Duration      time.Duration
}

// Config tunes a Searcher. Zero values select the defaults.
type Config struct {
	ExtractModel       string
	JudgeModel         string
	MergeLimit         int
	EvidenceLabelLimit int
	ExtractCacheSize   int
	ExtractCacheTTL    time.Duration
	Retriever          RetrieverConfig
}

// Searcher coordinates query decomposition, retrieval, merging and judging
type Searcher struct {
	decomposer *QueryDecomposer
	retriever  *CandidateRetriever
	reranker   *Reranker
	mergeLimit int
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewSearcher creates a new Searcher. The completer serves both the
// extractor and the judge models.
func NewSearcher(store CandidateStore, emb embedder.Embedder, completer llm.Completer, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MergeLimit <= 0 {
		cfg.MergeLimit = DefaultMergeLimit
	}
	if cfg.ExtractCacheSize == 0 {
		cfg.ExtractCacheSize = 1000
	}

	return &Searcher{
		decomposer: NewQueryDecomposer(completer, cfg.ExtractModel, cfg.ExtractCacheSize, cfg.ExtractCacheTTL, logger),
		retriever:  NewCandidateRetriever(store, emb, cfg.Retriever),
		reranker:   NewReranker(completer, cfg.JudgeModel, cfg.EvidenceLabelLimit, logger),
		mergeLimit: cfg.MergeLimit,
		metrics:    m,
		logger:     logger,
	}
}

// Search answers a "where is X" query. An empty merged candidate list
// returns types.NoMatchAnswer without calling the judge.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	resp, err := s.search(ctx, req)
	duration := time.Since(startTime)
	if err != nil {
		s.metrics.ObserveSearch(metrics.OutcomeError, duration)
		s.logger.Error("search failed", "query", llm.Truncate(req.Query, 100), "error", err, "duration", duration)
		return nil, err
	}

	resp.Duration = duration
	outcome := metrics.OutcomeSuccess
	if resp.Result.Image == nil {
		outcome = metrics.OutcomeEmpty
	}
	s.metrics.ObserveSearch(outcome, duration)
	s.logger.Info("search completed",
		"room", resp.Room,
		"item", resp.Item,
		"object_results", resp.ObjectResults,
		"scene_results", resp.SceneResults,
		"candidates", len(resp.Candidates),
		"matched", resp.Result.Image != nil,
		"duration", duration)
	return resp, nil
}

func (s *Searcher) search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", types.ErrInput)
	}

	dec, err := s.decomposer.Decompose(ctx, query, req.Room)
	if err != nil {
		return nil, err
	}

	found, err := s.retriever.Retrieve(ctx, query, dec)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveCandidates("object", len(found.Objects))
	s.metrics.ObserveCandidates("scene", len(found.Scenes))

	resp := &SearchResponse{
		Room:          dec.Room,
		Item:          dec.Item,
		ObjectResults: len(found.Objects),
		SceneResults:  len(found.Scenes),
		Candidates:    Merge(found.Objects, found.Scenes, s.mergeLimit),
	}
	if len(resp.Candidates) == 0 {
		resp.Result = types.SearchResult{Answer: types.NoMatchAnswer}
		return resp, nil
	}

	result, err := s.reranker.Rerank(ctx, query, resp.Candidates)
	if err != nil {
		return nil, err
	}
	resp.Result = *result
	resp.Judged = true
	return resp, nil
}
