package loader

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/kalambet/docqa/internal/chunker"
)

// loadHTML renders the document body as plain text: block elements become
// paragraph breaks, headings stay on their own line, script and style
// content is dropped.
func loadHTML(data []byte) ([]chunker.Page, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	var sb strings.Builder
	renderNode(&sb, root)
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("html contains no text content")
	}
	return []chunker.Page{{Number: 1, Text: text}}, nil
}

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"ul": true, "ol": true, "table": true, "blockquote": true,
	"pre": true, "header": true, "footer": true, "main": true,
}

var lineElements = map[string]bool{
	"br": true, "li": true, "tr": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true,
}

func renderNode(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" || n.Data == "noscript" || n.Data == "head" {
			return
		}
		if blockElements[n.Data] {
			sb.WriteString("\n\n")
		} else if lineElements[n.Data] {
			sb.WriteString("\n")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(sb, c)
	}

	if n.Type == html.ElementNode {
		if blockElements[n.Data] {
			sb.WriteString("\n\n")
		} else if lineElements[n.Data] {
			sb.WriteString("\n")
		}
	}
}
