package parser

import (
	"strings"
	"testing"
)

func blockTexts(t *testing.T, input, filename string) []string {
	t.Helper()
	p := &TextParser{}
	tree, err := p.Parse(strings.NewReader(input), filename)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out []string
	for i, b := range tree.Blocks() {
		if b.Tag != "p" {
			t.Errorf("block[%d]: expected tag p, got %q", i, b.Tag)
		}
		out = append(out, b.TextContent())
	}
	return out
}

func TestTextParser_RejoinsWrappedLines(t *testing.T) {
	input := "ITEM 1.  BUSINESS\n\n    The Company designs, manufactures and markets\n    smartphones and personal computers.\n\nITEM 1A. RISK FACTORS"
	got := blockTexts(t, input, "aapl-10k.txt")

	want := []string{
		"ITEM 1.  BUSINESS",
		"The Company designs, manufactures and markets smartphones and personal computers.",
		"ITEM 1A. RISK FACTORS",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d blocks, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("block[%d]: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestTextParser_Title(t *testing.T) {
	p := &TextParser{}
	tree, err := p.Parse(strings.NewReader(""), "0000320193-24-000123.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.Title != "0000320193-24-000123" {
		t.Errorf("expected title without extension, got %q", tree.Title)
	}
	if len(tree.Blocks()) != 0 {
		t.Errorf("expected 0 blocks for empty input, got %d", len(tree.Blocks()))
	}
}

func TestTextParser_PageMarkersBreakParagraphs(t *testing.T) {
	input := "continued on the next\n<PAGE>\n   12\nItem 2. Properties\n\fWe lease our offices."
	got := blockTexts(t, input, "filing.txt")

	want := []string{"continued on the next", "Item 2. Properties", "We lease our offices."}
	if len(got) != len(want) {
		t.Fatalf("expected %d blocks, got %d: %q", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("block[%d]: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestTextParser_BlankAndWhitespaceLines(t *testing.T) {
	input := "Para one.\n\n\n   \n\nPara two."
	got := blockTexts(t, input, "gaps.txt")
	if len(got) != 2 {
		t.Fatalf("expected 2 blocks, got %d: %q", len(got), got)
	}
}

func TestTextParser_SingleLine(t *testing.T) {
	p := &TextParser{}
	tree, err := p.Parse(strings.NewReader("Hello world"), "single.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.Text() != "Hello world" {
		t.Errorf("expected %q, got %q", "Hello world", tree.Text())
	}
}
