// Package ingest runs the document intake pipeline: normalize, chunk,
// embed, index, and mark the document ready. A document that enters the
// pipeline always leaves it either ready or failed.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/docqa/internal/chunker"
	"github.com/kalambet/docqa/internal/index"
	"github.com/kalambet/docqa/internal/provider"
	"github.com/kalambet/docqa/internal/store"
)

// embedConcurrency bounds how many embedding batches are in flight at once.
const embedConcurrency = 4

// Pipeline ties the ingestion stages together.
type Pipeline struct {
	store     *store.Store
	embedder  provider.Embedder
	index     index.Index
	chunkOpts chunker.Options
	batchSize int
	// observe reports per-document ingestion duration and outcome.
	// Nil when nothing is listening.
	observe func(d time.Duration, outcome string)
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithChunkOptions overrides the chunk sizing.
func WithChunkOptions(opts chunker.Options) Option {
	return func(p *Pipeline) { p.chunkOpts = opts }
}

// WithBatchSize bounds how many chunks one embedding call carries.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithObserver registers a callback receiving the duration and outcome
// ("ready" or "failed") of every ingestion run.
func WithObserver(fn func(d time.Duration, outcome string)) Option {
	return func(p *Pipeline) { p.observe = fn }
}

// New creates a Pipeline over the given store, embedder, and index.
func New(st *store.Store, emb provider.Embedder, idx index.Index, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     st,
		embedder:  emb,
		index:     idx,
		batchSize: 64,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run ingests the pages for an already-created document: chunk, embed,
// index, then flip the document to ready. Any failure, including context
// cancellation, marks the document failed with the reason. The returned
// error mirrors what was recorded.
func (p *Pipeline) Run(ctx context.Context, docID string, pages []chunker.Page) error {
	started := time.Now()
	err := p.run(ctx, docID, pages)
	if err != nil {
		p.fail(docID, err)
		p.report(started, "failed")
		return err
	}
	p.report(started, "ready")
	return nil
}

func (p *Pipeline) run(ctx context.Context, docID string, pages []chunker.Page) error {
	text, chunks := chunker.SplitPages(pages, p.chunkOpts)
	if len(chunks) == 0 {
		return fmt.Errorf("document contains no extractable text")
	}

	embeddings, err := p.embedAll(ctx, chunks)
	if err != nil {
		return err
	}

	entries := make([]index.Entry, len(chunks))
	stored := make([]store.Chunk, len(chunks))
	fallbackCount := 0
	for i, c := range chunks {
		entries[i] = index.Entry{
			DocID:      docID,
			ChunkIndex: c.Index,
			Text:       c.Text,
			Page:       c.Page,
			Section:    c.Section,
			Vector:     embeddings[i].Vector,
		}
		stored[i] = store.Chunk{
			Index:            c.Index,
			Text:             c.Text,
			Source:           sourceRef(c),
			Vector:           embeddings[i].Vector,
			FallbackEmbedded: embeddings[i].Fallback,
		}
		if embeddings[i].Fallback {
			fallbackCount++
		}
	}

	if err := p.index.Add(ctx, entries); err != nil {
		return fmt.Errorf("indexing chunks: %w", err)
	}
	if err := p.store.Complete(docID, text, stored); err != nil {
		// The document can be evicted or deleted while embedding is in
		// flight; its eviction hook already ran, so the rows just added
		// must go too.
		if rerr := p.index.Remove(context.Background(), docID); rerr != nil {
			p.logger.Warn("removing index rows for vanished document", "doc_id", docID, "error", rerr)
		}
		return fmt.Errorf("completing document: %w", err)
	}

	p.logger.Info("document ingested",
		"doc_id", docID,
		"chunks", len(chunks),
		"fallback_embedded", fallbackCount,
		"pages", len(pages))
	return nil
}

// embedAll embeds the chunk texts in bounded-concurrency batches, keeping
// results aligned with chunk order.
func (p *Pipeline) embedAll(ctx context.Context, chunks []chunker.Chunk) ([]provider.Embedding, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	out := make([]provider.Embedding, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for start := 0; start < len(texts); start += p.batchSize {
		start := start
		end := start + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			batch, err := p.embedder.Embed(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding chunks %d-%d: %w", start, end-1, err)
			}
			if len(batch) != end-start {
				return fmt.Errorf("embedding chunks %d-%d: got %d vectors for %d texts", start, end-1, len(batch), end-start)
			}
			copy(out[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) fail(docID string, cause error) {
	reason := cause.Error()
	if err := p.store.Fail(docID, reason); err != nil {
		p.logger.Warn("could not mark document failed", "doc_id", docID, "error", err)
		return
	}
	p.logger.Error("ingestion failed", "doc_id", docID, "error", cause)
}

func (p *Pipeline) report(started time.Time, outcome string) {
	if p.observe != nil {
		p.observe(time.Since(started), outcome)
	}
}

func sourceRef(c chunker.Chunk) *store.SourceRef {
	if c.Page == 0 && c.Section == "" {
		return nil
	}
	return &store.SourceRef{Page: c.Page, Section: c.Section}
}
