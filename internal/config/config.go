package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// ROOMSCAN_OPENAI_API_KEY for openai.api_key.
const EnvPrefix = "roomscan"

// Storage drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Embedding providers
const (
	EmbeddingOpenAI = "openai"
	EmbeddingLocal  = "local"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete runtime configuration. It is built once by Load and
// handed to each component at construction.
type Config struct {
	Log       LogConfig
	HTTP      HTTPConfig
	Storage   StorageConfig
	OpenAI    OpenAIConfig
	Embedding EmbeddingConfig
	Replicate ReplicateConfig
	Poller    PollerConfig
	Ingest    IngestConfig
	Search    SearchConfig
	NATS      NATSConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type StorageConfig struct {
	Driver string
	Path   string // sqlite database file
	DSN    string // postgres connection string
}

// OpenAIConfig configures the chat models used for scene description,
// query extraction and judging.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	SceneModel   string
	ExtractModel string
	JudgeModel   string
	Timeout      time.Duration
}

type EmbeddingConfig struct {
	Provider   string
	Model      string
	Dimension  int
	CacheSize  int
	MaxRetries int
}

// ReplicateConfig configures the object-detection prediction job.
type ReplicateConfig struct {
	APIToken     string
	BaseURL      string
	Version      string
	Temperature  float64
	MaxNewTokens int
}

type PollerConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

type IngestConfig struct {
	InheritWindow time.Duration
	RatePerSecond float64
	Burst         int
}

type SearchConfig struct {
	SceneThreshold     float64
	SceneLimit         int
	ObjectThreshold    float64
	ObjectScanWindow   int
	ObjectLimit        int
	MergeLimit         int
	EvidenceLabelLimit int
	ExtractCacheSize   int // negative disables the query extraction cache
	ExtractCacheTTL    time.Duration
}

type NATSConfig struct {
	URL        string // empty disables the trigger consumer
	Subject    string
	DLQSubject string
}

// SetDefaults registers every key with its default value. Keys must be known
// to viper for AutomaticEnv overrides to apply.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.path", "~/.roomscan/roomscan.db")
	v.SetDefault("storage.dsn", "")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.scene_model", "gpt-4o")
	v.SetDefault("openai.extract_model", "gpt-4o-mini")
	v.SetDefault("openai.judge_model", "gpt-4o")
	v.SetDefault("openai.timeout", 60*time.Second)

	v.SetDefault("embedding.provider", EmbeddingOpenAI)
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("embedding.cache_size", 10000)
	v.SetDefault("embedding.max_retries", 3)

	v.SetDefault("replicate.api_token", "")
	v.SetDefault("replicate.base_url", "https://api.replicate.com/v1")
	v.SetDefault("replicate.version", "39e893666996acf464cff75688ad49ac95ef54e9f1c688fbc677330acc478e11")
	v.SetDefault("replicate.temperature", 0.3)
	v.SetDefault("replicate.max_new_tokens", 512)

	v.SetDefault("poller.interval", time.Second)
	v.SetDefault("poller.max_attempts", 30)

	v.SetDefault("ingest.inherit_window", 10*time.Minute)
	v.SetDefault("ingest.rate_per_second", 2.0)
	v.SetDefault("ingest.burst", 4)

	v.SetDefault("search.scene_threshold", 0.1)
	v.SetDefault("search.scene_limit", 5)
	v.SetDefault("search.object_threshold", 0.5)
	v.SetDefault("search.object_scan_window", 50)
	v.SetDefault("search.object_limit", 5)
	v.SetDefault("search.merge_limit", 5)
	v.SetDefault("search.evidence_label_limit", 20)
	v.SetDefault("search.extract_cache_size", 1000)
	v.SetDefault("search.extract_cache_ttl", time.Hour)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "scans.created")
	v.SetDefault("nats.dlq_subject", "scans.created.dlq")
}

// Load reads configuration from v, applying defaults and ROOMSCAN_* environment
// overrides, and validates the result. A config file, if any, must already be
// set on v.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		HTTP: HTTPConfig{
			Addr:            v.GetString("http.addr"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(v.GetString("storage.driver")),
			Path:   v.GetString("storage.path"),
			DSN:    v.GetString("storage.dsn"),
		},
		OpenAI: OpenAIConfig{
			APIKey:       v.GetString("openai.api_key"),
			BaseURL:      v.GetString("openai.base_url"),
			SceneModel:   v.GetString("openai.scene_model"),
			ExtractModel: v.GetString("openai.extract_model"),
			JudgeModel:   v.GetString("openai.judge_model"),
			Timeout:      v.GetDuration("openai.timeout"),
		},
		Embedding: EmbeddingConfig{
			Provider:   strings.ToLower(v.GetString("embedding.provider")),
			Model:      v.GetString("embedding.model"),
			Dimension:  v.GetInt("embedding.dimension"),
			CacheSize:  v.GetInt("embedding.cache_size"),
			MaxRetries: v.GetInt("embedding.max_retries"),
		},
		Replicate: ReplicateConfig{
			APIToken:     v.GetString("replicate.api_token"),
			BaseURL:      v.GetString("replicate.base_url"),
			Version:      v.GetString("replicate.version"),
			Temperature:  v.GetFloat64("replicate.temperature"),
			MaxNewTokens: v.GetInt("replicate.max_new_tokens"),
		},
		Poller: PollerConfig{
			Interval:    v.GetDuration("poller.interval"),
			MaxAttempts: v.GetInt("poller.max_attempts"),
		},
		Ingest: IngestConfig{
			InheritWindow: v.GetDuration("ingest.inherit_window"),
			RatePerSecond: v.GetFloat64("ingest.rate_per_second"),
			Burst:         v.GetInt("ingest.burst"),
		},
		Search: SearchConfig{
			SceneThreshold:     v.GetFloat64("search.scene_threshold"),
			SceneLimit:         v.GetInt("search.scene_limit"),
			ObjectThreshold:    v.GetFloat64("search.object_threshold"),
			ObjectScanWindow:   v.GetInt("search.object_scan_window"),
			ObjectLimit:        v.GetInt("search.object_limit"),
			MergeLimit:         v.GetInt("search.merge_limit"),
			EvidenceLabelLimit: v.GetInt("search.evidence_label_limit"),
			ExtractCacheSize:   v.GetInt("search.extract_cache_size"),
			ExtractCacheTTL:    v.GetDuration("search.extract_cache_ttl"),
		},
		NATS: NATSConfig{
			URL:        v.GetString("nats.url"),
			Subject:    v.GetString("nats.subject"),
			DLQSubject: v.GetString("nats.dlq_subject"),
		},
	}

	path, err := ExpandPath(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	cfg.Storage.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			add("storage.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			add("storage.dsn is required for the postgres driver")
		}
	default:
		add("unknown storage.driver %q", c.Storage.Driver)
	}

	// The scene, extractor and judge models always call OpenAI.
	if c.OpenAI.APIKey == "" {
		add("openai.api_key is required")
	}

	switch c.Embedding.Provider {
	case EmbeddingOpenAI, EmbeddingLocal:
	default:
		add("unknown embedding.provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		add("embedding.dimension must be positive")
	}

	if c.Poller.Interval <= 0 {
		add("poller.interval must be positive")
	}
	if c.Poller.MaxAttempts <= 0 {
		add("poller.max_attempts must be positive")
	}
	if c.Ingest.InheritWindow < 0 {
		add("ingest.inherit_window cannot be negative")
	}
	if c.Ingest.RatePerSecond <= 0 {
		add("ingest.rate_per_second must be positive")
	}

	for key, t := range map[string]float64{
		"search.scene_threshold":  c.Search.SceneThreshold,
		"search.object_threshold": c.Search.ObjectThreshold,
	} {
		if t < -1 || t > 1 {
			add("%s must be within [-1, 1]", key)
		}
	}
	for key, n := range map[string]int{
		"search.scene_limit":          c.Search.SceneLimit,
		"search.object_scan_window":   c.Search.ObjectScanWindow,
		"search.object_limit":         c.Search.ObjectLimit,
		"search.merge_limit":          c.Search.MergeLimit,
		"search.evidence_label_limit": c.Search.EvidenceLabelLimit,
	} {
		if n <= 0 {
			add("%s must be positive", key)
		}
	}

	if c.NATS.URL != "" && (c.NATS.Subject == "" || c.NATS.DLQSubject == "") {
		add("nats.subject and nats.dlq_subject are required when nats.url is set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ExpandPath resolves a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
