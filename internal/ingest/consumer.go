package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/dshills/roomscan-mcp/internal/metrics"
)

// Consumer event results, also used as metric labels.
const (
	EventOK      = "ok"
	EventInvalid = "invalid"
	EventFailed  = "dlq"
	EventSkipped = "skipped"
)

// DefaultQueueGroup lets several consumers share one subject.
const DefaultQueueGroup = "roomscan-ingest"

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Subject       string
	DLQSubject    string // empty disables the dead-letter publish
	QueueGroup    string
	Workers       int     // concurrent ingestions (default 4)
	RatePerSecond float64 // ingestions started per second; <= 0 is unlimited
	Burst         int
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// dlqMessage is published once for a trigger whose ingestion failed. There
// is no automatic retry; an operator re-publishes the record.
type dlqMessage struct {
	Record Record `json:"record"`
	Error  string `json:"error"`
}

// Consumer subscribes to scan-created events and runs ingestion for each.
type Consumer struct {
	nc       *nats.Conn
	ingester Ingester
	cfg      ConsumerConfig
	limiter  *rate.Limiter
	logger   *slog.Logger

	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
}

// NewConsumer creates a Consumer. Call Start to subscribe.
func NewConsumer(nc *nats.Conn, ingester Ingester, cfg ConsumerConfig) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = DefaultQueueGroup
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		nc:       nc,
		ingester: ingester,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		logger:   logger.With("component", "consumer", "subject", cfg.Subject),
		sem:      make(chan struct{}, cfg.Workers),
	}
}

// Start subscribes to the configured subject. Ingestions run under ctx.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cfg.Subject == "" {
		return errors.New("consumer subject is required")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	sub, err := c.nc.QueueSubscribe(c.cfg.Subject, c.cfg.QueueGroup, c.handle)
	if err != nil {
		c.cancel()
		return fmt.Errorf("subscribe %s: %w", c.cfg.Subject, err)
	}
	c.sub = sub
	c.logger.Info("consumer started", "queue", c.cfg.QueueGroup, "workers", c.cfg.Workers)
	return nil
}

// Stop unsubscribes and waits for running ingestions.
func (c *Consumer) Stop() error {
	var err error
	if c.sub != nil {
		err = c.sub.Unsubscribe()
	}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
	if c.cancel != nil {
		c.cancel()
	}
	return err
}

func (c *Consumer) handle(msg *nats.Msg) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.logger.Error("unmarshal event failed", "error", err)
		c.cfg.Metrics.ObserveEvent(EventInvalid)
		return
	}

	// Bound concurrency; the callback blocks here, which applies
	// backpressure to the subscription.
	select {
	case c.sem <- struct{}{}:
	case <-c.ctx.Done():
		c.cfg.Metrics.ObserveEvent(EventSkipped)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.sem
		c.cfg.Metrics.ObserveEvent(EventSkipped)
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer func() {
			<-c.sem
			c.wg.Done()
		}()
		c.process(event.Record)
	}()
}

func (c *Consumer) process(rec Record) {
	if err := c.limiter.Wait(c.ctx); err != nil {
		c.logger.Warn("event dropped on shutdown", "scan_id", rec.ID, "error", err)
		c.cfg.Metrics.ObserveEvent(EventSkipped)
		return
	}

	if _, err := c.ingester.Ingest(c.ctx, rec); err != nil {
		if errors.Is(err, ErrInProgress) {
			c.cfg.Metrics.ObserveEvent(EventSkipped)
			return
		}
		c.cfg.Metrics.ObserveEvent(EventFailed)
		c.deadLetter(rec, err)
		return
	}
	c.cfg.Metrics.ObserveEvent(EventOK)
}

func (c *Consumer) deadLetter(rec Record, cause error) {
	if c.cfg.DLQSubject == "" {
		return
	}
	data, err := json.Marshal(dlqMessage{Record: rec, Error: cause.Error()})
	if err != nil {
		c.logger.Error("encode DLQ message failed", "scan_id", rec.ID, "error", err)
		return
	}
	if err := c.nc.Publish(c.cfg.DLQSubject, data); err != nil {
		c.logger.Error("DLQ publish failed", "scan_id", rec.ID, "error", err)
	}
}
