package loader

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/docqa/internal/chunker"
)

// loadPDF extracts plain text per page. Pages that fail extraction are
// skipped rather than failing the document; a PDF where no page yields
// text is an error.
func loadPDF(data []byte) ([]chunker.Page, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing pdf: %w", err)
	}

	var pages []chunker.Page
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, chunker.Page{Number: i, Text: text})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdf contains no extractable text")
	}
	return pages, nil
}
