// Package app wires configuration into the running components shared by the
// HTTP and MCP front ends.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dshills/roomscan-mcp/internal/config"
	"github.com/dshills/roomscan-mcp/internal/embedder"
	"github.com/dshills/roomscan-mcp/internal/ingest"
	"github.com/dshills/roomscan-mcp/internal/llm"
	"github.com/dshills/roomscan-mcp/internal/metrics"
	"github.com/dshills/roomscan-mcp/internal/poller"
	"github.com/dshills/roomscan-mcp/internal/searcher"
	"github.com/dshills/roomscan-mcp/internal/storage"
	"github.com/dshills/roomscan-mcp/internal/vision"
)

// App holds the long-lived components built from one Config.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    storage.Storage
	Embedder embedder.Embedder
	Metrics  *metrics.Metrics
	Ingester *ingest.Orchestrator
	Searcher *searcher.Searcher

	nc         *nats.Conn
	consumer   *ingest.Consumer
	background *ingest.Background
}

// NewLogger builds the process logger. Format is "json" or "text"; unknown
// levels fall back to info.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// OpenStorage opens the configured backend and applies migrations.
func OpenStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		return storage.NewPostgresStorage(ctx, cfg.Storage.DSN, cfg.Embedding.Dimension)
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.Storage.Path); dir != "" && cfg.Storage.Path != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		return storage.NewSQLiteStorage(cfg.Storage.Path)
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", config.ErrInvalidConfig, cfg.Storage.Driver)
	}
}

// NewEmbedder builds the configured embedding provider. Outbound calls are
// traced with otelhttp.
func NewEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	return embedder.New(embedder.Config{
		Provider:   cfg.Embedding.Provider,
		APIKey:     cfg.OpenAI.APIKey,
		BaseURL:    cfg.OpenAI.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimension:  cfg.Embedding.Dimension,
		CacheSize:  cfg.Embedding.CacheSize,
		MaxRetries: cfg.Embedding.MaxRetries,
		HTTPClient: tracedClient(cfg),
	})
}

// New builds every component. The caller owns the returned App and must
// Close it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := OpenStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Metrics: metrics.New(metrics.DefaultConfig()),
	}

	if err := a.build(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.Config

	emb, err := NewEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	a.Embedder = emb

	completer, err := llm.New(llm.Config{
		APIKey:     cfg.OpenAI.APIKey,
		BaseURL:    cfg.OpenAI.BaseURL,
		HTTPClient: tracedClient(cfg),
		Timeout:    cfg.OpenAI.Timeout,
		Logger:     a.Logger,
	})
	if err != nil {
		return fmt.Errorf("create chat client: %w", err)
	}

	var detector vision.ObjectDetector = vision.DisabledDetector{}
	if cfg.Replicate.APIToken != "" {
		d, err := vision.NewDetector(vision.DetectorConfig{
			APIToken:     cfg.Replicate.APIToken,
			BaseURL:      cfg.Replicate.BaseURL,
			Version:      cfg.Replicate.Version,
			Temperature:  cfg.Replicate.Temperature,
			MaxNewTokens: cfg.Replicate.MaxNewTokens,
			HTTPClient:   tracedClient(cfg),
			Logger:       a.Logger,
		})
		if err != nil {
			return fmt.Errorf("create detector: %w", err)
		}
		detector = d
	} else {
		a.Logger.Warn("replicate.api_token not set; scans are analyzed without object detection")
	}

	a.Ingester = ingest.New(ingest.Deps{
		Scene:    vision.NewSceneModel(completer, cfg.OpenAI.SceneModel, a.Logger),
		Detector: detector,
		Embedder: emb,
		Store:    a.Store,
		Metrics:  a.Metrics,
		Logger:   a.Logger,
	}, ingest.Config{
		InheritWindow: cfg.Ingest.InheritWindow,
		Poller: poller.Config{
			Interval:    cfg.Poller.Interval,
			MaxAttempts: cfg.Poller.MaxAttempts,
		},
	})

	a.Searcher = searcher.NewSearcher(a.Store, emb, completer, a.Metrics, a.Logger, searcher.Config{
		ExtractModel:       cfg.OpenAI.ExtractModel,
		JudgeModel:         cfg.OpenAI.JudgeModel,
		MergeLimit:         cfg.Search.MergeLimit,
		EvidenceLabelLimit: cfg.Search.EvidenceLabelLimit,
		ExtractCacheSize:   cfg.Search.ExtractCacheSize,
		ExtractCacheTTL:    cfg.Search.ExtractCacheTTL,
		Retriever: searcher.RetrieverConfig{
			SceneThreshold:   cfg.Search.SceneThreshold,
			SceneLimit:       cfg.Search.SceneLimit,
			ObjectThreshold:  cfg.Search.ObjectThreshold,
			ObjectScanWindow: cfg.Search.ObjectScanWindow,
			ObjectLimit:      cfg.Search.ObjectLimit,
		},
	})
	return nil
}

// StartTrigger sets up the scan-created path. With nats.url set, new scans
// are published to NATS and a queue-group consumer runs the ingestion;
// otherwise ingestion runs on an in-process goroutine.
func (a *App) StartTrigger(ctx context.Context) (ingest.Trigger, error) {
	if a.Config.NATS.URL == "" {
		a.background = ingest.NewBackground(ctx, a.Ingester, a.Logger)
		return a.background, nil
	}

	nc, err := nats.Connect(a.Config.NATS.URL, nats.Name("roomscan"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	consumer := ingest.NewConsumer(nc, a.Ingester, ingest.ConsumerConfig{
		Subject:       a.Config.NATS.Subject,
		DLQSubject:    a.Config.NATS.DLQSubject,
		RatePerSecond: a.Config.Ingest.RatePerSecond,
		Burst:         a.Config.Ingest.Burst,
		Metrics:       a.Metrics,
		Logger:        a.Logger,
	})
	if err := consumer.Start(ctx); err != nil {
		nc.Close()
		return nil, err
	}

	a.nc = nc
	a.consumer = consumer
	return ingest.NewPublisher(nc, a.Config.NATS.Subject), nil
}

// Close stops the trigger path and releases storage.
func (a *App) Close() error {
	var errs []error
	if a.consumer != nil {
		if err := a.consumer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop consumer: %w", err))
		}
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("drain nats: %w", err))
		}
	}
	if a.background != nil {
		a.background.Wait()
	}
	if a.Embedder != nil {
		if err := a.Embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close embedder: %w", err))
		}
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	return errors.Join(errs...)
}

func tracedClient(cfg *config.Config) *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   cfg.OpenAI.Timeout,
	}
}
