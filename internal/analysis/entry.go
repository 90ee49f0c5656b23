package analysis

import "strings"

// EntryKind tags an element of the analysis output.
type EntryKind string

const (
	KindHeader    EntryKind = "header"
	KindResult    EntryKind = "result"
	KindSeparator EntryKind = "separator"
)

// Entry is one element of an analysis: a group header, one completion result,
// or the blank separator that closes a group.
type Entry struct {
	Kind  EntryKind `json:"kind"`
	Group string    `json:"group"`
	Text  string    `json:"text"`
}

// Header returns the marker emitted before a group's results.
func Header(group string) string {
	return strings.ToUpper(group) + " ANALYSIS:"
}

// Lines flattens entries to the plain output sequence.
func Lines(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Text
	}
	return out
}

// Markdown renders entries as a single markdown document, one heading per
// group.
func Markdown(entries []Entry) string {
	var sb strings.Builder
	for _, e := range entries {
		switch e.Kind {
		case KindHeader:
			sb.WriteString("# ")
			sb.WriteString(e.Text)
			sb.WriteString("\n\n")
		case KindResult:
			sb.WriteString(strings.TrimSpace(e.Text))
			sb.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(sb.String()) + "\n"
}
