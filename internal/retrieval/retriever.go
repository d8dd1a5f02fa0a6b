// Package retrieval finds the document passages most relevant to a
// question, by vector similarity when embeddings are available and by
// lexical term overlap when they are not.
package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/docqa/internal/index"
	"github.com/kalambet/docqa/internal/provider"
	"github.com/kalambet/docqa/internal/store"
)

// DefaultTopK is how many passages a question retrieves by default.
const DefaultTopK = 5

// Context is one retrieved grounding passage with its relevance score.
type Context struct {
	ChunkIndex int
	Text       string
	Source     *store.SourceRef
	Score      float32
}

// Retriever combines question embedding and index search.
type Retriever struct {
	embedder provider.Embedder
	index    index.Index
}

// NewRetriever creates a Retriever over the given embedder and index.
func NewRetriever(embedder provider.Embedder, idx index.Index) *Retriever {
	return &Retriever{embedder: embedder, index: idx}
}

// Retrieve embeds the question and returns the top-k most similar chunks of
// the document, highest score first. A document with nothing indexed yields
// an empty result, not an error; the caller decides what that means.
func (r *Retriever) Retrieve(ctx context.Context, docID, question string, k int) ([]Context, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	embs, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}
	if len(embs) != 1 {
		return nil, fmt.Errorf("embedding question: got %d vectors", len(embs))
	}

	results, err := r.index.Search(ctx, docID, embs[0].Vector, k)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	out := make([]Context, len(results))
	for i, res := range results {
		out[i] = Context{
			ChunkIndex: res.ChunkIndex,
			Text:       res.Text,
			Source:     sourceRef(res.Page, res.Section),
			Score:      res.Score,
		}
	}
	return out, nil
}

func sourceRef(page int, section string) *store.SourceRef {
	if page == 0 && section == "" {
		return nil
	}
	return &store.SourceRef{Page: page, Section: section}
}
