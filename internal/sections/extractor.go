package sections

import (
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/dgallion1/filingsum/internal/doctree"
)

// Extractor finds configured section labels in a document and collects the
// text under each one.
type Extractor struct {
	labels   []string
	patterns []*regexp.Regexp
}

// NewExtractor compiles an anchored, case-insensitive pattern per label. A
// label must be followed by whitespace or end of text, so "Item 1." never
// matches "Item 1A.".
func NewExtractor(labels []string) *Extractor {
	e := &Extractor{
		labels:   append([]string(nil), labels...),
		patterns: make([]*regexp.Regexp, len(labels)),
	}
	for i, label := range labels {
		e.patterns[i] = regexp.MustCompile(`(?i)^\s*` + labelPattern(label) + `(?:\s|$)`)
	}
	return e
}

// labelPattern quotes label and lets its internal spaces match any run of
// whitespace.
func labelPattern(label string) string {
	words := strings.Fields(label)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(words, `\s+`)
}

// Labels returns the configured labels in declared order.
func (e *Extractor) Labels() []string {
	return append([]string(nil), e.labels...)
}

// Extract walks the document's text nodes in order and returns one section
// per configured label, in declared order.
//
// A node that starts with a label opens that section: its remaining text is
// kept, then the rest of the header element, then the sibling elements
// following the header until one contains another label. Text seen before the first label is dropped. When a
// label occurs more than once the last occurrence wins.
func (e *Extractor) Extract(tree *doctree.DocTree) Sections {
	found := make(map[string]string, len(e.labels))
	consumed := make(map[*doctree.Node]bool)

	var (
		current string
		buf     []string
	)
	flush := func() {
		if current != "" {
			found[current] = normalizeSpace(strings.Join(buf, " "))
		}
		buf = nil
	}

	if tree != nil {
		for _, node := range tree.TextNodes() {
			if consumed[node] {
				continue
			}
			text := norm.NFKC.String(node.Text)

			if label, rest, ok := e.match(text); ok {
				flush()
				current = label
				buf = append(buf, rest)

				header := headerElement(node, tree.Root)
				if !e.absorbTail(header, node, &buf, consumed) {
					continue
				}
				for sib := header.NextSibling(); sib != nil; sib = sib.NextSibling() {
					if e.containsLabel(sib) {
						break
					}
					buf = append(buf, norm.NFKC.String(sib.TextContent()))
					for _, leaf := range sib.Leaves() {
						consumed[leaf] = true
					}
				}
				continue
			}

			if current != "" {
				buf = append(buf, text)
			}
		}
	}
	flush()

	out := make(Sections, 0, len(e.labels))
	for _, label := range e.labels {
		if text := found[label]; text != "" {
			out = append(out, Section{Label: label, Chunks: []string{text}, Found: true})
		} else {
			out = append(out, absent(label))
		}
	}
	return out
}

// match returns the label text starts with and what follows it. The longest
// matching label wins.
func (e *Extractor) match(text string) (label, rest string, ok bool) {
	bestEnd := -1
	for i, re := range e.patterns {
		loc := re.FindStringIndex(text)
		if loc == nil || loc[1] <= bestEnd {
			continue
		}
		bestEnd = loc[1]
		label = e.labels[i]
	}
	if bestEnd < 0 {
		return "", "", false
	}
	return label, text[bestEnd:], true
}

func (e *Extractor) containsLabel(n *doctree.Node) bool {
	for _, leaf := range n.Leaves() {
		if _, _, ok := e.match(norm.NFKC.String(leaf.Text)); ok {
			return true
		}
	}
	return false
}

// absorbTail appends the leaves of header that follow leaf and marks them
// consumed. It stops at a leaf that opens another label and reports false, in
// which case the header's siblings belong to that later label.
func (e *Extractor) absorbTail(header, leaf *doctree.Node, buf *[]string, consumed map[*doctree.Node]bool) bool {
	if header == leaf {
		return true
	}
	leaves := header.Leaves()
	i := slices.Index(leaves, leaf)
	for _, next := range leaves[i+1:] {
		if consumed[next] {
			continue
		}
		text := norm.NFKC.String(next.Text)
		if _, _, ok := e.match(text); ok {
			return false
		}
		*buf = append(*buf, text)
		consumed[next] = true
	}
	return true
}

// headerElement is the element whose following siblings belong to a header
// found in leaf.
func headerElement(leaf, root *doctree.Node) *doctree.Node {
	if leaf.Parent != nil && leaf.Parent != root {
		return leaf.Parent
	}
	return leaf
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
