package retrieval

import (
	"regexp"
	"sort"
	"strings"

	"github.com/kalambet/docqa/internal/store"
)

// minLexicalScore is the minimum fraction of question keywords a chunk must
// contain to count as a lexical match.
const minLexicalScore = 0.1

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// lexicalStopwords are dropped from questions before overlap scoring.
var lexicalStopwords = map[string]struct{}{}

func init() {
	words := []string{
		"a", "an", "the", "is", "are", "was", "were", "be", "been", "being",
		"have", "has", "had", "do", "does", "did", "will", "would", "could",
		"should", "may", "might", "must", "shall", "can",
		"this", "that", "these", "those", "what", "which", "who", "whom",
		"where", "when", "why", "how", "in", "on", "at", "to", "for", "of",
		"with", "by", "from", "as", "about", "into", "through", "during",
		"before", "after", "above", "below", "between", "and", "or", "not",
		"it", "its", "i", "me", "my", "you", "your", "he", "she", "we", "they",
	}
	for _, w := range words {
		lexicalStopwords[w] = struct{}{}
	}
}

// LexicalSearch scores chunks by keyword overlap with the question and
// returns the top-k matches above the minimum score, highest first. It
// needs no embeddings, so it works on chunks the embedding path never
// reached, and it is fully deterministic: ties break by overlap count,
// then by chunk order.
func LexicalSearch(chunks []store.Chunk, question string, k int) []Context {
	if k <= 0 {
		k = DefaultTopK
	}

	keywords := questionKeywords(question)
	if len(keywords) == 0 {
		return nil
	}

	type scored struct {
		ctx     Context
		overlap int
		index   int
	}
	var matches []scored

	for _, c := range chunks {
		chunkWords := map[string]struct{}{}
		for _, w := range wordRe.FindAllString(strings.ToLower(c.Text), -1) {
			chunkWords[w] = struct{}{}
		}

		overlap := 0
		for w := range keywords {
			if _, ok := chunkWords[w]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}

		score := float32(overlap) / float32(len(keywords))
		if score < minLexicalScore {
			continue
		}
		matches = append(matches, scored{
			ctx: Context{
				ChunkIndex: c.Index,
				Text:       c.Text,
				Source:     c.Source,
				Score:      score,
			},
			overlap: overlap,
			index:   c.Index,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].ctx.Score != matches[j].ctx.Score {
			return matches[i].ctx.Score > matches[j].ctx.Score
		}
		if matches[i].overlap != matches[j].overlap {
			return matches[i].overlap > matches[j].overlap
		}
		return matches[i].index < matches[j].index
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	out := make([]Context, len(matches))
	for i, m := range matches {
		out[i] = m.ctx
	}
	return out
}

// questionKeywords extracts significant terms: lowercased, stopwords
// removed, and single- or two-character tokens dropped unless numeric.
func questionKeywords(question string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range wordRe.FindAllString(strings.ToLower(question), -1) {
		if _, stop := lexicalStopwords[w]; stop {
			continue
		}
		if len(w) <= 2 && !isNumeric(w) {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
