// Package chunker normalizes extracted document text and splits it into
// overlapping passages sized for embedding and retrieval.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	// DefaultTargetSize is the preferred chunk length in characters.
	DefaultTargetSize = 1000
	// DefaultOverlap is how many characters of the previous chunk's tail
	// are repeated at the head of the next chunk.
	DefaultOverlap = 180
)

// Options controls chunk sizing. Zero values fall back to the defaults.
type Options struct {
	TargetSize int
	Overlap    int
}

func (o Options) withDefaults() Options {
	if o.TargetSize <= 0 {
		o.TargetSize = DefaultTargetSize
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.Overlap == 0 {
		o.Overlap = DefaultOverlap
	}
	if o.Overlap >= o.TargetSize {
		o.Overlap = o.TargetSize / 4
	}
	return o
}

// Chunk is one passage of the normalized text. Start and End are byte
// offsets into the normalized text; Text == text[Start:End]. The region
// [Start, CoreStart) is overlap repeated from the previous chunk, so
// concatenating text[CoreStart:End] across all chunks reconstructs the
// normalized text exactly.
type Chunk struct {
	Index     int
	Text      string
	Start     int
	CoreStart int
	End       int
	Page      int    // 1-based page number, 0 if unknown
	Section   string // nearest preceding header line, "" if none
}

// Page is one page of source text with its 1-based page number, as produced
// by a loader that preserves page boundaries.
type Page struct {
	Number int
	Text   string
}

var (
	controlRe   = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	multiSpace  = regexp.MustCompile(` {2,}`)
	manyBlank   = regexp.MustCompile(`\n{3,}`)
	sentenceEnd = regexp.MustCompile(`[.!?]["')\]]?(\s+|\z)`)
	paraBreak   = regexp.MustCompile(`\n\n`)
)

// ocrReplacer folds typographic ligatures and punctuation variants that OCR
// output and PDF extraction commonly produce.
var ocrReplacer = strings.NewReplacer(
	"ﬁ", "fi",
	"ﬂ", "fl",
	"ﬀ", "ff",
	"ﬃ", "ffi",
	"ﬄ", "ffl",
	"—", "-",
	"–", "-",
	"‘", "'",
	"’", "'",
	"“", `"`,
	"”", `"`,
	"…", "...",
	" ", " ",
)

// Normalize cleans raw extracted text: line endings, control characters,
// ligatures, and collapsed whitespace. Normalizing twice is a no-op.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = ocrReplacer.Replace(s)
	s = controlRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\t", " ")
	s = multiSpace.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	s = strings.Join(lines, "\n")
	s = manyBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Split chunks normalized text. It prefers to end chunks on sentence or
// paragraph boundaries; when no boundary exists within twice the target
// size, the chunk is hard-split at the nearest word break. Empty or
// whitespace-only input yields no chunks.
func Split(text string, opts Options) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	opts = opts.withDefaults()

	bounds := boundaries(text)
	var chunks []Chunk
	pos := 0
	for pos < len(text) {
		end := cutAt(text, bounds, pos, opts.TargetSize)

		// Absorb a tiny trailing remainder into the final chunk rather
		// than emitting a fragment.
		if len(text)-end < opts.TargetSize/4 && len(text)-end < opts.Overlap {
			end = len(text)
		}

		start := pos - opts.Overlap
		if start < 0 {
			start = 0
		}
		start = wordAlign(text, start)
		if start > pos {
			start = pos
		}

		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			Text:      text[start:end],
			Start:     start,
			CoreStart: pos,
			End:       end,
		})
		pos = end
	}
	return chunks
}

// SplitPages normalizes each page, joins them into one document text, and
// chunks the result with page numbers and section labels assigned from the
// page layout. It returns the joined normalized text alongside the chunks.
func SplitPages(pages []Page, opts Options) (string, []Chunk) {
	type marker struct {
		offset int
		page   int
	}

	var sb strings.Builder
	var markers []marker
	for _, p := range pages {
		norm := Normalize(p.Text)
		if norm == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		markers = append(markers, marker{offset: sb.Len(), page: p.Number})
		sb.WriteString(norm)
	}

	text := sb.String()
	chunks := Split(text, opts)
	headers := headerOffsets(text)

	for i := range chunks {
		core := chunks[i].CoreStart
		for _, m := range markers {
			if m.offset <= core {
				chunks[i].Page = m.page
			}
		}
		for _, h := range headers {
			if h.offset <= core {
				chunks[i].Section = h.text
			}
		}
	}
	return text, chunks
}

// boundaries returns ascending offsets at which a chunk may end: after
// sentence-final punctuation, after blank lines, and at end of text.
func boundaries(text string) []int {
	set := map[int]struct{}{}
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		set[loc[1]] = struct{}{}
	}
	for _, loc := range paraBreak.FindAllStringIndex(text, -1) {
		set[loc[1]] = struct{}{}
	}
	set[len(text)] = struct{}{}

	out := make([]int, 0, len(set))
	for b := range set {
		out = append(out, b)
	}
	sortInts(out)
	return out
}

func sortInts(v []int) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j] < v[j-1]; j-- {
			v[j], v[j-1] = v[j-1], v[j]
		}
	}
}

// cutAt picks the end offset for a chunk whose core starts at pos. It takes
// the last boundary within targetSize; failing that, the first boundary
// within 2×targetSize; failing that, a hard split at the last word break
// before the limit.
func cutAt(text string, bounds []int, pos, targetSize int) int {
	limit := pos + targetSize
	if limit >= len(text) {
		return len(text)
	}

	best := -1
	for _, b := range bounds {
		if b <= pos {
			continue
		}
		if b <= limit {
			best = b
			continue
		}
		if best < 0 && b <= pos+2*targetSize {
			best = b
		}
		break
	}
	if best > 0 {
		if best > len(text) {
			return len(text)
		}
		return best
	}

	// Hard split: back up to the last whitespace so we never cut mid-word.
	for i := limit; i > pos; i-- {
		if unicode.IsSpace(rune(text[i-1])) {
			return i
		}
	}
	return limit
}

// wordAlign moves start forward past a partial word so overlap regions
// begin on a word boundary.
func wordAlign(text string, start int) int {
	if start == 0 {
		return 0
	}
	if unicode.IsSpace(rune(text[start-1])) {
		return start
	}
	for start < len(text) && !unicode.IsSpace(rune(text[start])) {
		start++
	}
	for start < len(text) && unicode.IsSpace(rune(text[start])) {
		start++
	}
	return start
}

type headerMark struct {
	offset int
	text   string
}

// headerOffsets finds lines that look like section headers: short all-caps
// lines or short lines ending with a colon.
func headerOffsets(text string) []headerMark {
	var out []headerMark
	offset := 0
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if isHeader(trimmed) {
			out = append(out, headerMark{offset: offset, text: strings.TrimSuffix(trimmed, ":")})
		}
		offset += len(line) + 1
	}
	return out
}

func isHeader(line string) bool {
	if line == "" || len(line) >= 60 {
		return false
	}
	words := strings.Fields(line)
	if len(words) == 0 || len(words) > 8 {
		return false
	}
	if strings.HasSuffix(line, ":") && len(line) < 40 {
		return true
	}
	hasLetter := false
	for _, r := range line {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}
