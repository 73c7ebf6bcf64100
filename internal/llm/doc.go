// Package llm wraps an OpenAI-compatible chat endpoint for the three
// structured calls in the pipeline: scene description, query extraction and
// candidate judging. Every call runs in JSON mode and decodes into a typed
// struct owned by the caller; decoding failures surface as
// types.ErrUpstreamParse.
package llm
