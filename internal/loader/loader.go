// Package loader extracts text pages from uploaded documents. It handles
// PDF, HTML, and plain text; the format is sniffed from the filename
// extension first and the content second.
package loader

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kalambet/docqa/internal/chunker"
)

// maxDocumentBytes bounds upload size; session storage is memory-only.
const maxDocumentBytes = 32 << 20

// Load extracts pages from raw document bytes. Page boundaries are
// preserved for PDFs; HTML and plain text yield a single page unless the
// text carries form-feed page breaks.
func Load(name string, data []byte) ([]chunker.Page, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	if len(data) > maxDocumentBytes {
		return nil, fmt.Errorf("document too large: %d bytes (limit %d)", len(data), maxDocumentBytes)
	}

	switch detectFormat(name, data) {
	case formatPDF:
		return loadPDF(data)
	case formatHTML:
		return loadHTML(data)
	default:
		return loadText(data), nil
	}
}

type format int

const (
	formatText format = iota
	formatPDF
	formatHTML
)

func detectFormat(name string, data []byte) format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return formatPDF
	case ".html", ".htm":
		return formatHTML
	case ".txt", ".md":
		return formatText
	}

	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return formatPDF
	}
	head := bytes.ToLower(data[:min(len(data), 512)])
	if bytes.Contains(head, []byte("<!doctype html")) || bytes.Contains(head, []byte("<html")) {
		return formatHTML
	}
	return formatText
}

// loadText treats form feeds as page breaks, matching how plain-text
// exports of paginated documents mark pages.
func loadText(data []byte) []chunker.Page {
	parts := strings.Split(string(data), "\f")
	pages := make([]chunker.Page, 0, len(parts))
	for i, part := range parts {
		pages = append(pages, chunker.Page{Number: i + 1, Text: part})
	}
	return pages
}
