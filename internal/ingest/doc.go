// Package ingest turns a newly created scan into an analyzed one.
//
// A scan-created event carries the scan id and image URL. The Orchestrator
// runs the scene model and the object detector in parallel, embeds every
// detected label in one batch, resolves ambiguous room labels against the
// most recent definite scan, embeds the synthesized scene text, and writes
// the whole analysis in a single transaction.
//
// Events arrive either from a NATS subscription (Consumer) or from an
// in-process Background trigger. Failures are logged and, for NATS, published
// once to a dead-letter subject.
package ingest
