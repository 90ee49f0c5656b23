package parser

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/dgallion1/filingsum/internal/doctree"
)

// HTMLParser handles HTML filings. The element structure is kept as-is so
// headers can be related to the content beside them.
type HTMLParser struct{}

// skippedElements never contribute text. ix:header carries the hidden inline
// XBRL facts of EDGAR filings.
var skippedElements = map[string]bool{
	"script":    true,
	"style":     true,
	"head":      true,
	"noscript":  true,
	"template":  true,
	"ix:header": true,
}

func (p *HTMLParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	tree := doctree.New(trimExt(filename))
	if title := findTitle(doc); title != "" {
		tree.Title = title
	}

	start := findBody(doc)
	if start == nil {
		start = doc
	}
	for c := start.FirstChild; c != nil; c = c.NextSibling {
		tree.Root.Append(convert(c))
	}

	return tree, nil
}

// convert maps an HTML node to a doctree node. Whitespace-only text and
// non-content elements map to nil, which Append ignores.
func convert(n *html.Node) *doctree.Node {
	switch n.Type {
	case html.TextNode:
		if strings.TrimSpace(n.Data) == "" {
			return nil
		}
		return doctree.Text(n.Data)
	case html.ElementNode:
		if skippedElements[n.Data] {
			return nil
		}
		el := doctree.Element(n.Data)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			el.Append(convert(c))
		}
		if len(el.Children) == 0 {
			return nil
		}
		return el
	case html.DocumentNode:
		el := doctree.Element("document")
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			el.Append(convert(c))
		}
		return el
	}
	return nil
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.TrimSpace(buf.String())
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		return textContent(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
