package parser

import (
	"bufio"
	"io"
	"strings"

	"github.com/dgallion1/filingsum/internal/doctree"
)

// TextParser handles plain text filings as EDGAR serves them: hard-wrapped
// lines, blank-line paragraphs and <PAGE> markers between printed pages.
// Each paragraph becomes a <p> block with its wrapped lines rejoined. Page
// markers and bare page numbers end a paragraph and are dropped.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*doctree.DocTree, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	tree := doctree.New(trimExt(filename))
	var lines []string
	flush := func() {
		if len(lines) > 0 {
			tree.Root.Append(doctree.Element("p", doctree.Text(strings.Join(lines, " "))))
			lines = lines[:0]
		}
	}

	for scanner.Scan() {
		// A form feed ends a printed page wherever it falls on the line.
		for i, segment := range strings.Split(scanner.Text(), "\f") {
			if i > 0 {
				flush()
			}
			line := strings.TrimSpace(segment)
			if line == "" || isPageMarker(line) || isPageNumber(line) {
				flush()
				continue
			}
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()

	return tree, nil
}

func isPageMarker(line string) bool {
	return strings.EqualFold(line, "<PAGE>") || strings.EqualFold(line, "</PAGE>")
}
