package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
	ErrShortResponse     = errors.New("provider returned fewer vectors than inputs")
)

// Embedding is one vector with the metadata of the model that produced it.
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // cache key: model + text
}

// EmbeddingRequest represents a request to generate embeddings
type EmbeddingRequest struct {
	Text  string
	Model string // Optional: override default model
}

// BatchEmbeddingRequest carries several texts embedded in one upstream call.
type BatchEmbeddingRequest struct {
	Texts []string
	Model string // Optional: override default model
}

// BatchEmbeddingResponse holds one embedding per input text, in input order.
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Vectors returns the raw vectors in input order.
func (r *BatchEmbeddingResponse) Vectors() [][]float32 {
	out := make([][]float32, len(r.Embeddings))
	for i, emb := range r.Embeddings {
		out[i] = emb.Vector
	}
	return out
}

// Embedder converts text into fixed-length vectors.
//
// GenerateBatch must issue at most one upstream call per invocation and must
// return exactly one embedding per input text, in input order.
type Embedder interface {
	// GenerateEmbedding generates a single embedding for the given text
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch generates embeddings for multiple texts in one call
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension returns the embedding dimension for this provider
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// Cache provides in-memory LRU caching of embeddings by content hash.
// Label vocabularies repeat heavily across scans ("table", "chair", ...), so
// most object-label embeddings are served from here after warm-up.
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		cache, _ = lru.New[string, *Embedding](10000)
	}
	return &Cache{
		cache: cache,
	}
}

// Get returns a copy of the cached embedding so callers cannot mutate the
// cached vector.
func (c *Cache) Get(hash string) (*Embedding, bool) {
	emb, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	return cloneEmbedding(emb), true
}

// Set stores a copy of emb with automatic LRU eviction, so the caller keeps
// ownership of the value it passed in.
func (c *Cache) Set(hash string, emb *Embedding) {
	c.cache.Add(hash, cloneEmbedding(emb))
}

func cloneEmbedding(emb *Embedding) *Embedding {
	vectorCopy := make([]float32, len(emb.Vector))
	copy(vectorCopy, emb.Vector)

	return &Embedding{
		Vector:    vectorCopy,
		Dimension: emb.Dimension,
		Provider:  emb.Provider,
		Model:     emb.Model,
		Hash:      emb.Hash,
	}
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// ComputeHash derives the cache key for text embedded by model. The model is
// part of the key because vectors from different models are not comparable.
func ComputeHash(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateRequest validates an embedding request
func ValidateRequest(req EmbeddingRequest) error {
	if req.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest validates a batch embedding request
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	if len(req.Texts) > MaxBatchSize {
		return fmt.Errorf("%w: %d texts, max %d", ErrBatchTooLarge, len(req.Texts), MaxBatchSize)
	}

	for i, text := range req.Texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}

	return nil
}
