package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// Ingester runs ingestion for one record.
type Ingester interface {
	Ingest(ctx context.Context, rec Record) (*Result, error)
}

// Trigger emits the scan-created event for a new scan.
type Trigger interface {
	Trigger(ctx context.Context, rec Record) error
}

// Publisher emits scan-created events on a NATS subject for a Consumer,
// possibly in another process, to pick up.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a Publisher for subject.
func NewPublisher(nc *nats.Conn, subject string) *Publisher {
	return &Publisher{nc: nc, subject: subject}
}

// Trigger publishes {"record": rec}.
func (p *Publisher) Trigger(_ context.Context, rec Record) error {
	data, err := json.Marshal(Event{Record: rec})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

// Background runs ingestion in-process on its own goroutine. It stands in
// for the event bus when NATS is not configured.
type Background struct {
	ingester Ingester
	base     context.Context
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewBackground creates a Background trigger. Ingestions run under base, not
// under the caller's request context, so they outlive the HTTP request.
func NewBackground(base context.Context, ingester Ingester, logger *slog.Logger) *Background {
	if logger == nil {
		logger = slog.Default()
	}
	return &Background{ingester: ingester, base: base, logger: logger}
}

// Trigger starts ingestion and returns immediately.
func (b *Background) Trigger(_ context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		// Ingest logs its own failures.
		_, _ = b.ingester.Ingest(b.base, rec)
	}()
	return nil
}

// Wait blocks until every started ingestion has returned.
func (b *Background) Wait() {
	b.wg.Wait()
}
