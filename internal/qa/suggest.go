package qa

import (
	"fmt"
	"strings"

	"github.com/kalambet/docqa/internal/store"
)

// SuggestQuestions derives up to n questions the document can plausibly
// answer, from its section headings and page structure. Purely structural,
// no model call, so it works in every degradation mode.
func SuggestQuestions(doc store.Document, n int) []string {
	if n <= 0 {
		n = 3
	}

	var out []string
	seen := map[string]struct{}{}
	add := func(q string) {
		if len(out) >= n {
			return
		}
		if _, dup := seen[q]; dup {
			return
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}

	for _, c := range doc.Chunks {
		if len(out) >= n {
			break
		}
		if c.Source == nil || c.Source.Section == "" {
			continue
		}
		section := titleCase(c.Source.Section)
		add(fmt.Sprintf("What does the %q section say?", section))
	}

	if doc.Title != "" {
		add(fmt.Sprintf("What is %s about?", doc.Title))
	}
	add("Can you summarize the main points of this document?")
	return out
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
