package embedder

import (
	"fmt"
	"net/http"
	"strings"
)

// Config holds embedder configuration. Every value is supplied by the
// caller; the package never reads the environment.
type Config struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	Dimension  int
	CacheSize  int
	MaxRetries int
	HTTPClient *http.Client
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		retry := DefaultRetryConfig()
		if cfg.MaxRetries > 0 {
			retry.MaxRetries = cfg.MaxRetries
		}
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimension:  cfg.Dimension,
			HTTPClient: cfg.HTTPClient,
			Retry:      retry,
		}, cache)
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}
