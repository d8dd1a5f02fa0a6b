// Package provider holds the embedding and generation backends for the Q&A
// pipeline: a remote OpenAI-compatible HTTP client, a deterministic local
// fallback embedder, and the composition that degrades per batch instead of
// failing whole ingestions.
package provider

import (
	"context"
	"errors"
)

// Sentinel errors classifying provider failures. Timeouts and outages both
// route callers onto fallback paths but are logged and counted separately.
var (
	// ErrUnavailable means the backend is down, unreachable, or rejected
	// the request outright.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrTimeout means the backend did not respond within the configured
	// deadline.
	ErrTimeout = errors.New("provider timeout")
	// ErrMalformed means the backend responded but the payload could not
	// be used (bad JSON, missing fields, wrong vector dimension).
	ErrMalformed = errors.New("provider returned malformed response")
)

// Embedding is one embedded text. Fallback marks vectors produced by the
// local deterministic path rather than the remote API.
type Embedding struct {
	Vector   []float32
	Fallback bool
}

// Embedder converts texts to fixed-length vectors, one per input in input
// order. All vectors from one Embedder have length Dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([]Embedding, error)
	Dimension() int
}

// GenerationRequest is a grounded prompt for the generation backend.
type GenerationRequest struct {
	System   string
	Messages []Message
}

// Message is one chat turn in the prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces a free-text answer for a grounded prompt.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}
