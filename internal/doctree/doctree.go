package doctree

import "strings"

// DocTree is the root of a parsed document.
type DocTree struct {
	Title string // Document title (from metadata or filename)
	Root  *Node  // Synthetic root element; top-level blocks are its children
}

// Node is either an element (Tag set) or a text leaf (Tag empty).
// Parsers keep the source's parent/sibling structure so section headers
// can absorb body content that sits beside them rather than below them.
type Node struct {
	Tag      string  // Element name, e.g. "p", "div", "h2"; empty for text leaves
	Text     string  // Text of a leaf (empty for elements)
	Parent   *Node   // nil for the root
	Children []*Node // Child nodes in document order

	index int // position within Parent.Children
}

// New returns an empty tree with the given title.
func New(title string) *DocTree {
	return &DocTree{Title: title, Root: &Node{Tag: "root"}}
}

// Element builds an element node and attaches children to it.
func Element(tag string, children ...*Node) *Node {
	n := &Node{Tag: tag}
	n.Append(children...)
	return n
}

// Text builds a text leaf.
func Text(s string) *Node {
	return &Node{Text: s}
}

// Append attaches children to n, fixing up parent and sibling links.
func (n *Node) Append(children ...*Node) *Node {
	for _, c := range children {
		if c == nil {
			continue
		}
		c.Parent = n
		c.index = len(n.Children)
		n.Children = append(n.Children, c)
	}
	return n
}

// IsText reports whether n is a text leaf.
func (n *Node) IsText() bool { return n.Tag == "" }

// NextSibling returns the node that follows n under the same parent.
func (n *Node) NextSibling() *Node {
	if n.Parent == nil || n.index+1 >= len(n.Parent.Children) {
		return nil
	}
	return n.Parent.Children[n.index+1]
}

// Leaves returns all text leaves under n (including n itself) in document order.
func (n *Node) Leaves() []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(x *Node) {
		if x.IsText() {
			out = append(out, x)
			return
		}
		for _, c := range x.Children {
			walk(c)
		}
	}
	walk(n)
	return out
}

// TextContent joins the text of every leaf under n with single spaces.
func (n *Node) TextContent() string {
	var parts []string
	for _, leaf := range n.Leaves() {
		if t := strings.TrimSpace(leaf.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Blocks returns the top-level nodes of the tree.
func (t *DocTree) Blocks() []*Node {
	if t.Root == nil {
		return nil
	}
	return t.Root.Children
}

// TextNodes returns every text leaf of the document in order.
func (t *DocTree) TextNodes() []*Node {
	if t.Root == nil {
		return nil
	}
	return t.Root.Leaves()
}

// Text flattens the document, one non-empty leaf per line.
func (t *DocTree) Text() string {
	var sb strings.Builder
	for _, leaf := range t.TextNodes() {
		s := strings.TrimSpace(leaf.Text)
		if s == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(s)
	}
	return sb.String()
}
