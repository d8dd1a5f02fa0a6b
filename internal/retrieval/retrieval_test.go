package retrieval

import (
	"context"
	"testing"

	"github.com/kalambet/docqa/internal/index"
	"github.com/kalambet/docqa/internal/provider"
	"github.com/kalambet/docqa/internal/store"
)

func TestRetrieve(t *testing.T) {
	ctx := context.Background()
	emb := provider.NewHashEmbedder(64)
	idx := index.NewMemory()

	texts := []string{
		"The warranty period is twelve months from the date of purchase.",
		"Shipping is free for orders above fifty dollars.",
		"Returns must be initiated within thirty days.",
	}
	vecs, err := emb.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	entries := make([]index.Entry, len(texts))
	for i, text := range texts {
		entries[i] = index.Entry{
			DocID:      "doc1",
			ChunkIndex: i,
			Text:       text,
			Page:       i + 1,
			Vector:     vecs[i].Vector,
		}
	}
	if err := idx.Add(ctx, entries); err != nil {
		t.Fatalf("Add: %v", err)
	}

	r := NewRetriever(emb, idx)
	got, err := r.Retrieve(ctx, "doc1", "how long is the warranty period?", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d contexts, want 2", len(got))
	}
	if got[0].ChunkIndex != 0 {
		t.Errorf("top context is chunk %d, want the warranty chunk", got[0].ChunkIndex)
	}
	if got[0].Source == nil || got[0].Source.Page != 1 {
		t.Errorf("source ref not carried through: %+v", got[0].Source)
	}
	if got[0].Score < got[1].Score {
		t.Error("contexts not ordered by descending score")
	}
}

func TestRetrieve_EmptyDocument(t *testing.T) {
	r := NewRetriever(provider.NewHashEmbedder(32), index.NewMemory())
	got, err := r.Retrieve(context.Background(), "missing", "anything?", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d contexts for an empty document, want 0", len(got))
	}
}

func TestLexicalSearch(t *testing.T) {
	chunks := []store.Chunk{
		{Index: 0, Text: "The warranty covers manufacturing defects for twelve months."},
		{Index: 1, Text: "Shipping costs depend on the destination country."},
		{Index: 2, Text: "Warranty claims require the original receipt.", Source: &store.SourceRef{Page: 3}},
	}

	got := LexicalSearch(chunks, "What does the warranty cover?", 2)
	if len(got) != 2 {
		t.Fatalf("got %d matches, want 2", len(got))
	}
	// "covers" does not match "cover" exactly, so both warranty chunks
	// overlap on "warranty" alone and the tie breaks to the lower index.
	if got[0].ChunkIndex != 0 {
		t.Errorf("first match is chunk %d, want 0", got[0].ChunkIndex)
	}
	for _, c := range got {
		if c.ChunkIndex == 1 {
			t.Error("shipping chunk matched a warranty question")
		}
	}
	if got[0].Score <= 0 {
		t.Errorf("score = %f, want > 0", got[0].Score)
	}
}

func TestLexicalSearch_NoMatch(t *testing.T) {
	chunks := []store.Chunk{
		{Index: 0, Text: "Quarterly revenue grew by eight percent."},
	}
	if got := LexicalSearch(chunks, "What is the warranty policy?", 5); len(got) != 0 {
		t.Errorf("got %d matches for an unrelated question, want 0", len(got))
	}
}

func TestLexicalSearch_StopwordOnlyQuestion(t *testing.T) {
	chunks := []store.Chunk{{Index: 0, Text: "it is what it is"}}
	if got := LexicalSearch(chunks, "what is it?", 5); len(got) != 0 {
		t.Errorf("stopword-only question matched %d chunks, want 0", len(got))
	}
}

func TestLexicalSearch_DeterministicOrder(t *testing.T) {
	chunks := []store.Chunk{
		{Index: 0, Text: "refund policy details"},
		{Index: 1, Text: "refund policy details"},
		{Index: 2, Text: "refund policy details"},
	}
	first := LexicalSearch(chunks, "refund policy", 3)
	for i := 0; i < 5; i++ {
		again := LexicalSearch(chunks, "refund policy", 3)
		for j := range first {
			if again[j].ChunkIndex != first[j].ChunkIndex {
				t.Fatalf("ordering changed between runs at position %d", j)
			}
		}
	}
	if first[0].ChunkIndex != 0 || first[1].ChunkIndex != 1 {
		t.Errorf("equal-score ties not broken by chunk index: %v, %v", first[0].ChunkIndex, first[1].ChunkIndex)
	}
}
