// Package sections slices a parsed filing into its labeled items
// ("Item 1.", "Item 7A.", ...).
package sections

import "strings"

// NotFound is the placeholder content of a configured label that never
// appeared in the document. Check Section.Found rather than comparing to it.
const NotFound = "not found"

// ContentLabel names the single section used when a document is analyzed
// without structural labels.
const ContentLabel = "content"

// Section is the text found under one label.
type Section struct {
	Label  string   `json:"label"`
	Chunks []string `json:"chunks"`
	Found  bool     `json:"found"`
}

// Text joins the section's chunks. Absent sections have no text.
func (s Section) Text() string {
	if !s.Found {
		return ""
	}
	return strings.Join(s.Chunks, " ")
}

// Sections is an ordered label -> section mapping. Order is the declared
// label order of the form type.
type Sections []Section

// Get returns the section for label.
func (ss Sections) Get(label string) (Section, bool) {
	for _, s := range ss {
		if s.Label == label {
			return s, true
		}
	}
	return Section{}, false
}

// Labels returns the labels in order.
func (ss Sections) Labels() []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.Label
	}
	return out
}

// AnyFound reports whether at least one section has text.
func (ss Sections) AnyFound() bool {
	for _, s := range ss {
		if s.Found {
			return true
		}
	}
	return false
}

// IsContent reports whether ss came from the no-structure path.
func (ss Sections) IsContent() bool {
	return len(ss) == 1 && ss[0].Label == ContentLabel
}

// Map renders ss as label -> chunks, with absent sections as ["not found"].
func (ss Sections) Map() map[string][]string {
	out := make(map[string][]string, len(ss))
	for _, s := range ss {
		out[s.Label] = s.Chunks
	}
	return out
}

// Content wraps pre-chunked text as the single "content" section.
func Content(chunks []string) Sections {
	if len(chunks) == 0 {
		return Sections{absent(ContentLabel)}
	}
	return Sections{{Label: ContentLabel, Chunks: chunks, Found: true}}
}

func absent(label string) Section {
	return Section{Label: label, Chunks: []string{NotFound}}
}
