package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// retryBackoff is the pause before the single retry of a failed batch.
const retryBackoff = 500 * time.Millisecond

// RemoteBatchEmbedder is the remote side of a ResilientEmbedder: a client
// that embeds one bounded batch per call.
type RemoteBatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error)
	Dimension() int
}

// ResilientEmbedder routes batches to a remote embedder and degrades to the
// local deterministic path per batch: a failing batch is retried once with
// backoff, then embedded locally, without failing sibling batches. With no
// remote configured every text takes the local path.
type ResilientEmbedder struct {
	remote    RemoteBatchEmbedder // nil when no API is configured
	local     *HashEmbedder
	batchSize int
	logger    *slog.Logger
}

// NewResilientEmbedder composes the remote and local embedding paths.
// remote may be nil. batchSize bounds remote request sizes (default 64).
func NewResilientEmbedder(remote RemoteBatchEmbedder, dim int, batchSize int) *ResilientEmbedder {
	if batchSize <= 0 {
		batchSize = defaultMaxBatchSize
	}
	return &ResilientEmbedder{
		remote:    remote,
		local:     NewHashEmbedder(dim),
		batchSize: batchSize,
		logger:    slog.Default(),
	}
}

// Dimension returns the session-wide embedding dimension.
func (e *ResilientEmbedder) Dimension() int { return e.local.Dimension() }

// Embed embeds texts in order. The error return is always nil today; it is
// kept so call sites do not change if a non-degradable failure mode appears.
func (e *ResilientEmbedder) Embed(ctx context.Context, texts []string) ([]Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.remote == nil {
		return e.local.Embed(ctx, texts)
	}

	out := make([]Embedding, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		out = append(out, e.embedBatch(ctx, texts[start:end])...)
	}
	return out, nil
}

func (e *ResilientEmbedder) embedBatch(ctx context.Context, texts []string) []Embedding {
	batch, err := e.remote.EmbedBatch(ctx, texts)
	if err != nil {
		select {
		case <-ctx.Done():
		case <-time.After(retryBackoff):
			batch, err = e.remote.EmbedBatch(ctx, texts)
		}
	}
	if err == nil && batch != nil {
		return batch
	}

	switch {
	case errors.Is(err, ErrTimeout):
		e.logger.Warn("embedding batch timed out, using local fallback", "batch_size", len(texts), "error", err)
	case err != nil:
		e.logger.Warn("embedding batch failed, using local fallback", "batch_size", len(texts), "error", err)
	}

	local, _ := e.local.Embed(ctx, texts)
	return local
}
