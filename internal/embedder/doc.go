// Package embedder turns text into fixed-length vectors for scene and object search.
//
// Two providers are available: OpenAI-compatible embeddings through go-openai
// and an offline hashed bag-of-words provider for development. Both implement
// Embedder and can share an LRU Cache.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{
//	    Provider:  embedder.ProviderOpenAI,
//	    APIKey:    cfg.OpenAI.APIKey,
//	    Model:     "text-embedding-3-small",
//	    CacheSize: 10000,
//	})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
// # Batching
//
// Ingestion embeds all object labels of a photo in one GenerateBatch call and
// the scene synthesis text in a second call. Search embeds the raw query and
// the extracted item phrase together:
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{query, item},
//	})
//	queryVec, itemVec := resp.Embeddings[0].Vector, resp.Embeddings[1].Vector
//
// GenerateBatch returns exactly one embedding per input, in input order, and
// issues at most one upstream request. Cached texts are served locally and
// only the misses are sent.
//
// # Caching
//
// Cache keys are SHA-256 hashes of the model name and the text, so switching
// models never returns stale vectors. Get hands out copies.
//
// # Retries
//
// Upstream calls are retried with exponential backoff on transport errors,
// 429 and 5xx responses. Other client errors fail immediately.
package embedder
