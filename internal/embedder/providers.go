package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"unicode"

	"github.com/sashabaranov/go-openai"
)

// Provider configuration
const (
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultOpenAIModel = string(openai.SmallEmbedding3)
	DefaultLocalModel  = "local-hash-bow"

	// Dimensions
	OpenAIDimension = 1536
	LocalDimension  = 384

	// MaxBatchSize is the OpenAI embeddings input limit per request.
	MaxBatchSize = 2048

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // empty uses the public OpenAI endpoint
	Model      string
	Dimension  int
	HTTPClient *http.Client
	Retry      RetryConfig
}

// OpenAIProvider implements Embedder using the OpenAI embeddings API
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	dimension int
	retry     RetryConfig
	cache     *Cache
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(cfg OpenAIConfig, cache *Cache) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key not set", ErrNoProviderEnabled)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = OpenAIDimension
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		dimension: dimension,
		retry:     retry,
		cache:     cache,
	}, nil
}

func (o *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := o.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// GenerateBatch serves cached texts locally and sends the remaining texts in
// a single embeddings request.
func (o *OpenAIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = o.model
	}

	embeddings := make([]*Embedding, len(req.Texts))
	var missTexts []string
	var missIdx []int
	for i, text := range req.Texts {
		hash := ComputeHash(model, text)
		if o.cache != nil {
			if emb, ok := o.cache.Get(hash); ok {
				embeddings[i] = emb
				continue
			}
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		fetched, err := retryWithBackoff(ctx, o.retry, func() ([]*Embedding, error) {
			return o.callAPI(ctx, missTexts, model)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
		}

		for j, emb := range fetched {
			emb.Hash = ComputeHash(model, missTexts[j])
			if o.cache != nil {
				o.cache.Set(emb.Hash, emb)
			}
			embeddings[missIdx[j]] = emb
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderOpenAI,
		Model:      model,
	}, nil
}

func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	}
	// Only the text-embedding-3 family accepts a dimensions override.
	if strings.HasPrefix(model, "text-embedding-3") && o.dimension != OpenAIDimension {
		req.Dimensions = o.dimension
	}

	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d for %d inputs", ErrShortResponse, len(resp.Data), len(texts))
	}

	// The API reports each vector's input position; do not rely on response order.
	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	embeddings := make([]*Embedding, len(data))
	for i, d := range data {
		if len(d.Embedding) != o.dimension {
			return nil, fmt.Errorf("%w: expected dimension %d, got %d", ErrProviderFailed, o.dimension, len(d.Embedding))
		}
		embeddings[i] = &Embedding{
			Vector:    d.Embedding,
			Dimension: len(d.Embedding),
			Provider:  ProviderOpenAI,
			Model:     model,
		}
	}

	return embeddings, nil
}

func (o *OpenAIProvider) Dimension() int {
	return o.dimension
}

func (o *OpenAIProvider) Provider() string {
	return ProviderOpenAI
}

func (o *OpenAIProvider) Model() string {
	return o.model
}

func (o *OpenAIProvider) Close() error {
	return nil
}

// LocalProvider embeds text offline with a hashed bag-of-words projection.
// Texts sharing words get positive cosine similarity, which is enough for
// development and tests without an API key.
type LocalProvider struct {
	model     string
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a local embedder. A non-positive dimension selects
// LocalDimension.
func NewLocalProvider(dimension int, cache *Cache) (*LocalProvider, error) {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{
		model:     DefaultLocalModel,
		dimension: dimension,
		cache:     cache,
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := ComputeHash(l.model, req.Text)
	if l.cache != nil {
		if emb, ok := l.cache.Get(hash); ok {
			return emb, nil
		}
	}

	vector := make([]float32, l.dimension)
	for _, word := range tokenize(req.Text) {
		sum := sha256.Sum256([]byte(word))
		bucket := binary.LittleEndian.Uint32(sum[:4]) % uint32(l.dimension)
		sign := float32(1)
		if sum[4]&1 == 1 {
			sign = -1
		}
		vector[bucket] += sign
	}

	emb := &Embedding{
		Vector:    NormalizeVector(vector),
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      hash,
	}

	if l.cache != nil {
		l.cache.Set(hash, emb)
	}

	return emb, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text, Model: req.Model})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// tokenize lowercases text and splits it on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
