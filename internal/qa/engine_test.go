package qa

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/docqa/internal/index"
	"github.com/kalambet/docqa/internal/provider"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/store"
)

type fakeGenerator struct {
	response string
	err      error
	lastReq  provider.GenerationRequest
	calls    int
}

func (g *fakeGenerator) Generate(_ context.Context, req provider.GenerationRequest) (string, error) {
	g.calls++
	g.lastReq = req
	return g.response, g.err
}

type failingEmbedder struct{ dim int }

func (e *failingEmbedder) Embed(context.Context, []string) ([]provider.Embedding, error) {
	return nil, provider.ErrUnavailable
}

func (e *failingEmbedder) Dimension() int { return e.dim }

// readyDocument ingests three chunks into both the store and the index and
// returns the ready document.
func readyDocument(t *testing.T, st *store.Store, idx index.Index, emb provider.Embedder) store.Document {
	t.Helper()
	ctx := context.Background()

	chunks := []store.Chunk{
		{Index: 0, Text: "The warranty period is twelve months from purchase.", Source: &store.SourceRef{Page: 1, Section: "WARRANTY"}},
		{Index: 1, Text: "Shipping is free for orders above fifty dollars.", Source: &store.SourceRef{Page: 2, Section: "SHIPPING"}},
		{Index: 2, Text: "Returns must be initiated within thirty days."},
	}

	doc := st.Create("terms.pdf")
	if err := st.Complete(doc.ID, "", chunks); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := emb.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	entries := make([]index.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = index.Entry{
			DocID:      doc.ID,
			ChunkIndex: c.Index,
			Text:       c.Text,
			Vector:     vecs[i].Vector,
		}
		if c.Source != nil {
			entries[i].Page = c.Source.Page
			entries[i].Section = c.Source.Section
		}
	}
	if err := idx.Add(ctx, entries); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := st.Get(doc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return got
}

func TestAsk_Grounded(t *testing.T) {
	st := store.New()
	idx := index.NewMemory()
	emb := provider.NewHashEmbedder(64)
	doc := readyDocument(t, st, idx, emb)

	gen := &fakeGenerator{response: "The warranty lasts twelve months."}
	e := NewEngine(st, retrieval.NewRetriever(emb, idx), gen, 2)

	ans, err := e.Ask(context.Background(), doc.ID, "How long is the warranty period?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Mode != ModeGrounded {
		t.Errorf("mode = %s, want grounded", ans.Mode)
	}
	if ans.UsedFallback {
		t.Error("grounded answer flagged as fallback")
	}
	if ans.Text != "The warranty lasts twelve months." {
		t.Errorf("answer = %q", ans.Text)
	}
	if len(ans.Sources) == 0 {
		t.Fatal("no sources on a grounded answer")
	}
	if ans.Sources[0].Section != "WARRANTY" {
		t.Errorf("top source = %+v, want the warranty section", ans.Sources[0])
	}

	if !strings.Contains(gen.lastReq.System, "warranty period is twelve months") {
		t.Error("prompt does not carry the retrieved excerpt")
	}
	last := gen.lastReq.Messages[len(gen.lastReq.Messages)-1]
	if last.Role != "user" || last.Content != "How long is the warranty period?" {
		t.Errorf("question is not the final user message: %+v", last)
	}

	turns, err := st.History(doc.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 1 || turns[0].Answer != ans.Text {
		t.Errorf("exchange not recorded: %+v", turns)
	}
}

func TestAsk_CarriesHistory(t *testing.T) {
	st := store.New()
	idx := index.NewMemory()
	emb := provider.NewHashEmbedder(64)
	doc := readyDocument(t, st, idx, emb)

	gen := &fakeGenerator{response: "Answer."}
	e := NewEngine(st, retrieval.NewRetriever(emb, idx), gen, 2)
	ctx := context.Background()

	if _, err := e.Ask(ctx, doc.ID, "How long is the warranty?"); err != nil {
		t.Fatalf("first Ask: %v", err)
	}
	if _, err := e.Ask(ctx, doc.ID, "And what about shipping?"); err != nil {
		t.Fatalf("second Ask: %v", err)
	}

	msgs := gen.lastReq.Messages
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want prior turn plus question", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "How long is the warranty?" {
		t.Errorf("history user message wrong: %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" {
		t.Errorf("history assistant message wrong: %+v", msgs[1])
	}
}

func TestAsk_NotReady(t *testing.T) {
	st := store.New()
	emb := provider.NewHashEmbedder(32)
	e := NewEngine(st, retrieval.NewRetriever(emb, index.NewMemory()), nil, 0)

	doc := st.Create("pending.pdf")
	if _, err := e.Ask(context.Background(), doc.ID, "anything?"); !errors.Is(err, ErrNotReady) {
		t.Errorf("got %v, want ErrNotReady for processing document", err)
	}

	failed := st.Create("broken.pdf")
	st.Fail(failed.ID, "parse error")
	if _, err := e.Ask(context.Background(), failed.ID, "anything?"); !errors.Is(err, ErrNotReady) {
		t.Errorf("got %v, want ErrNotReady for failed document", err)
	}
}

func TestAsk_UnknownDocument(t *testing.T) {
	st := store.New()
	emb := provider.NewHashEmbedder(32)
	e := NewEngine(st, retrieval.NewRetriever(emb, index.NewMemory()), nil, 0)

	if _, err := e.Ask(context.Background(), "missing", "anything?"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestAsk_ExtractiveWhenGenerationFails(t *testing.T) {
	st := store.New()
	idx := index.NewMemory()
	emb := provider.NewHashEmbedder(64)
	doc := readyDocument(t, st, idx, emb)

	gen := &fakeGenerator{err: provider.ErrUnavailable}
	e := NewEngine(st, retrieval.NewRetriever(emb, idx), gen, 2)

	ans, err := e.Ask(context.Background(), doc.ID, "How long is the warranty period?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Mode != ModeExtractive || !ans.UsedFallback {
		t.Errorf("mode = %s fallback = %v, want extractive fallback", ans.Mode, ans.UsedFallback)
	}
	if !strings.Contains(ans.Text, "warranty period is twelve months") {
		t.Errorf("extractive answer does not quote the best passage: %q", ans.Text)
	}
	if len(ans.Sources) == 0 {
		t.Error("extractive answer lost its sources")
	}
}

func TestAsk_ExtractiveWithoutGenerator(t *testing.T) {
	st := store.New()
	idx := index.NewMemory()
	emb := provider.NewHashEmbedder(64)
	doc := readyDocument(t, st, idx, emb)

	e := NewEngine(st, retrieval.NewRetriever(emb, idx), nil, 2)
	ans, err := e.Ask(context.Background(), doc.ID, "How long is the warranty period?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Mode != ModeExtractive || !ans.UsedFallback {
		t.Errorf("mode = %s fallback = %v, want extractive fallback", ans.Mode, ans.UsedFallback)
	}
}

// When the embedding path is down entirely, grounding comes from term
// overlap against the stored chunks.
func TestAsk_LexicalGrounding(t *testing.T) {
	st := store.New()
	idx := index.NewMemory()
	doc := readyDocument(t, st, idx, provider.NewHashEmbedder(64))

	gen := &fakeGenerator{response: "Twelve months."}
	e := NewEngine(st, retrieval.NewRetriever(&failingEmbedder{dim: 64}, idx), gen, 2)

	ans, err := e.Ask(context.Background(), doc.ID, "How long is the warranty period?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Mode != ModeLexical {
		t.Errorf("mode = %s, want lexical", ans.Mode)
	}
	if ans.UsedFallback {
		t.Error("generation succeeded, answer must not be flagged as generation fallback")
	}
	if ans.Text != "Twelve months." {
		t.Errorf("answer = %q", ans.Text)
	}
}

func TestAsk_NoGrounding(t *testing.T) {
	st := store.New()
	idx := index.NewMemory() // nothing indexed

	chunks := []store.Chunk{
		{Index: 0, Text: "Quarterly revenue grew by eight percent.", Source: &store.SourceRef{Section: "FINANCIALS"}},
	}
	doc := st.Create("report.pdf")
	if err := st.Complete(doc.ID, "", chunks); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	gen := &fakeGenerator{response: "should never be called"}
	e := NewEngine(st, retrieval.NewRetriever(provider.NewHashEmbedder(64), idx), gen, 2)

	ans, err := e.Ask(context.Background(), doc.ID, "What is the warranty policy?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Mode != ModeNoGrounding {
		t.Errorf("mode = %s, want no_grounding", ans.Mode)
	}
	if gen.calls != 0 {
		t.Error("generator invoked without grounding passages")
	}
	if len(ans.Sources) != 0 {
		t.Errorf("no-grounding answer cites sources: %+v", ans.Sources)
	}
	if len(ans.Suggested) == 0 {
		t.Error("no suggested questions on a no-grounding answer")
	}
}

func TestAsk_EmptyQuestion(t *testing.T) {
	st := store.New()
	e := NewEngine(st, retrieval.NewRetriever(provider.NewHashEmbedder(32), index.NewMemory()), nil, 0)
	if _, err := e.Ask(context.Background(), "any", "   "); err == nil {
		t.Error("expected error for blank question")
	}
}

func TestSuggestQuestions(t *testing.T) {
	doc := store.Document{
		Title: "terms.pdf",
		Chunks: []store.Chunk{
			{Index: 0, Source: &store.SourceRef{Section: "WARRANTY"}},
			{Index: 1, Source: &store.SourceRef{Section: "WARRANTY"}},
			{Index: 2, Source: &store.SourceRef{Section: "SHIPPING TERMS"}},
		},
	}
	got := SuggestQuestions(doc, 3)
	if len(got) != 3 {
		t.Fatalf("got %d suggestions, want 3", len(got))
	}
	if !strings.Contains(got[0], "Warranty") {
		t.Errorf("first suggestion %q does not reference the first section", got[0])
	}
	if got[0] == got[1] {
		t.Error("duplicate section produced duplicate suggestions")
	}
}

func TestExtractiveAnswer_TrimsLongPassages(t *testing.T) {
	long := strings.Repeat("This sentence fills the excerpt budget. ", 30)
	got := extractiveAnswer(retrieval.Context{Text: long})
	if len(got) > 500 {
		t.Errorf("excerpt too long: %d bytes", len(got))
	}
	if !strings.HasSuffix(got, ".") {
		t.Errorf("excerpt not cut at a sentence boundary: %q", got)
	}
}
