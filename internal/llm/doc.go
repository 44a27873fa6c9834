// Package llm contains adapters for invoking large language models. It
// abstracts away provider-specific APIs behind a single client interface
// covering command parsing, text generation and embeddings.
package llm
