package qa

import (
	"fmt"
	"strings"

	"github.com/kalambet/docqa/internal/provider"
	"github.com/kalambet/docqa/internal/retrieval"
	"github.com/kalambet/docqa/internal/store"
)

// maxHistoryTurns bounds how many past exchanges the prompt carries.
const maxHistoryTurns = 4

const systemInstruction = `You answer questions about a single document using only the excerpts provided below.
Rules:
- Base every statement on the excerpts. Do not use outside knowledge.
- If the excerpts do not contain the answer, say the document does not cover it.
- When an excerpt carries a page or section reference, cite it in the answer.
- Be concise and factual.`

// buildRequest assembles the grounded generation request: the system
// instruction with numbered excerpts, the trailing conversation history,
// and the question last.
func buildRequest(question string, contexts []retrieval.Context, history []store.ConversationTurn) provider.GenerationRequest {
	var sb strings.Builder
	sb.WriteString(systemInstruction)
	sb.WriteString("\n\nDocument excerpts:\n")
	for i, c := range contexts {
		sb.WriteString(fmt.Sprintf("\n[%d]%s %s\n", i+1, refLabel(c.Source), strings.TrimSpace(c.Text)))
	}

	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	messages := make([]provider.Message, 0, 2*len(history)+1)
	for _, turn := range history {
		messages = append(messages,
			provider.Message{Role: "user", Content: turn.Question},
			provider.Message{Role: "assistant", Content: turn.Answer},
		)
	}
	messages = append(messages, provider.Message{Role: "user", Content: question})

	return provider.GenerationRequest{
		System:   sb.String(),
		Messages: messages,
	}
}

func refLabel(ref *store.SourceRef) string {
	if ref == nil {
		return ""
	}
	switch {
	case ref.Page > 0 && ref.Section != "":
		return fmt.Sprintf(" (page %d, %q)", ref.Page, ref.Section)
	case ref.Page > 0:
		return fmt.Sprintf(" (page %d)", ref.Page)
	case ref.Section != "":
		return fmt.Sprintf(" (%q)", ref.Section)
	}
	return ""
}
