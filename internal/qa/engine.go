// Package qa answers questions about a single document: retrieve grounding
// passages, compose a grounded prompt, generate, and degrade step by step
// when a stage is unavailable. Every answer states how it was produced.
package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/docqa/internal/provider"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/store"
)

// ErrNotReady is returned when a question arrives before ingestion finished
// or after it failed.
var ErrNotReady = errors.New("document is not ready for questions")

// Mode names the path that produced an answer.
type Mode string

const (
	// ModeGrounded means vector retrieval plus model generation succeeded.
	ModeGrounded Mode = "grounded"
	// ModeLexical means grounding came from term overlap, not embeddings.
	ModeLexical Mode = "lexical"
	// ModeExtractive means the model was unavailable and the answer is a
	// verbatim excerpt of the best matching passage.
	ModeExtractive Mode = "extractive"
	// ModeNoGrounding means nothing in the document relates to the question.
	ModeNoGrounding Mode = "no_grounding"
)

// Answer is a complete response to one question.
type Answer struct {
	Text    string            `json:"answer"`
	Sources []store.SourceRef `json:"sources"`
	Mode    Mode              `json:"mode"`
	// UsedFallback is true when the generation provider was unavailable
	// and the answer is extractive. Degraded grounding alone does not set
	// it; Mode carries that.
	UsedFallback bool `json:"used_fallback"`
	// Suggested is populated only on no-grounding answers, to steer the
	// user toward what the document can actually answer.
	Suggested []string `json:"suggested_questions,omitempty"`
}

// Engine wires retrieval, generation, and the document store into the
// question-answering state machine.
type Engine struct {
	store     *store.Store
	retriever *retrieval.Retriever
	generator provider.Generator // nil when no chat API is configured
	topK      int
	logger    *slog.Logger
}

// NewEngine creates an Engine. generator may be nil; answers then always
// take the extractive path.
func NewEngine(st *store.Store, r *retrieval.Retriever, gen provider.Generator, topK int) *Engine {
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	return &Engine{
		store:     st,
		retriever: r,
		generator: gen,
		topK:      topK,
		logger:    slog.Default(),
	}
}

// Ask answers a question about the document and records the exchange in its
// conversation history. Failures of the embedding or generation stage
// degrade the answer instead of failing the call; only an unknown or
// not-ready document is an error.
func (e *Engine) Ask(ctx context.Context, docID, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, fmt.Errorf("empty question")
	}

	doc, err := e.store.Get(docID)
	if err != nil {
		return Answer{}, err
	}
	if doc.Status != store.StatusReady {
		return Answer{}, fmt.Errorf("document %s is %s: %w", docID, doc.Status, ErrNotReady)
	}

	contexts, mode := e.ground(ctx, doc, question)
	if len(contexts) == 0 {
		ans := e.noGroundingAnswer(doc)
		e.record(docID, question, ans)
		return ans, nil
	}

	ans := e.compose(ctx, docID, question, contexts, mode)
	e.record(docID, question, ans)
	return ans, nil
}

// ground retrieves passages for the question: vector search first, term
// overlap against the raw chunks when the vector path yields nothing.
func (e *Engine) ground(ctx context.Context, doc store.Document, question string) ([]retrieval.Context, Mode) {
	contexts, err := e.retriever.Retrieve(ctx, doc.ID, question, e.topK)
	if err != nil {
		e.logger.Warn("vector retrieval failed, trying lexical match",
			"doc_id", doc.ID, "error", err)
		contexts = nil
	}
	if len(contexts) > 0 {
		return contexts, ModeGrounded
	}

	lexical := retrieval.LexicalSearch(doc.Chunks, question, e.topK)
	if len(lexical) > 0 {
		return lexical, ModeLexical
	}
	return nil, ModeNoGrounding
}

// compose turns retrieved passages into an answer, generating when a model
// is available and excerpting when it is not.
func (e *Engine) compose(ctx context.Context, docID, question string, contexts []retrieval.Context, mode Mode) Answer {
	sources := collectSources(contexts)

	if e.generator != nil {
		history, err := e.store.History(docID)
		if err != nil {
			history = nil
		}
		text, err := e.generate(ctx, question, contexts, history)
		if err == nil {
			return Answer{
				Text:    text,
				Sources: sources,
				Mode:    mode,
			}
		}
		e.logger.Warn("generation failed, falling back to extractive answer",
			"doc_id", docID, "error", err)
	}

	return Answer{
		Text:         extractiveAnswer(contexts[0]),
		Sources:      sources,
		Mode:         ModeExtractive,
		UsedFallback: true,
	}
}

func (e *Engine) generate(ctx context.Context, question string, contexts []retrieval.Context, history []store.ConversationTurn) (string, error) {
	req := buildRequest(question, contexts, history)
	text, err := e.generator.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("model returned an empty answer: %w", provider.ErrMalformed)
	}
	return text, nil
}

// noGroundingAnswer is the honest refusal: nothing in the document relates
// to the question, and the answer says so instead of guessing.
func (e *Engine) noGroundingAnswer(doc store.Document) Answer {
	return Answer{
		Text:      "The document does not appear to contain information related to this question.",
		Sources:   []store.SourceRef{},
		Mode:      ModeNoGrounding,
		Suggested: SuggestQuestions(doc, 3),
	}
}

func (e *Engine) record(docID, question string, ans Answer) {
	err := e.store.AppendTurn(docID, store.ConversationTurn{
		Question:     question,
		Answer:       ans.Text,
		Sources:      ans.Sources,
		UsedFallback: ans.UsedFallback,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		e.logger.Warn("failed to record conversation turn", "doc_id", docID, "error", err)
	}
}

// collectSources gathers the distinct source refs of the passages that were
// actually placed in front of the model, in retrieval order. Citations never
// come from anywhere else.
func collectSources(contexts []retrieval.Context) []store.SourceRef {
	out := make([]store.SourceRef, 0, len(contexts))
	seen := map[store.SourceRef]struct{}{}
	for _, c := range contexts {
		if c.Source == nil {
			continue
		}
		if _, dup := seen[*c.Source]; dup {
			continue
		}
		seen[*c.Source] = struct{}{}
		out = append(out, *c.Source)
	}
	return out
}

// extractiveAnswer excerpts the most relevant passage verbatim, trimmed to
// a sentence boundary. Deterministic: same passages, same answer.
func extractiveAnswer(top retrieval.Context) string {
	const maxExcerpt = 400
	text := strings.TrimSpace(top.Text)
	if len(text) > maxExcerpt {
		cut := strings.LastIndexAny(text[:maxExcerpt], ".!?")
		if cut > maxExcerpt/2 {
			text = text[:cut+1]
		} else {
			if sp := strings.LastIndex(text[:maxExcerpt], " "); sp > 0 {
				text = text[:sp]
			} else {
				text = text[:maxExcerpt]
			}
			text += "…"
		}
	}
	return "The most relevant passage in the document reads: " + text
}
