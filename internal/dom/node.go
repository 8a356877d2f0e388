package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Leaf pairs a leaf element with its text content at the time of the walk.
type Leaf struct {
	Node *html.Node
	Text string
}

// LeafTexts returns every leaf element under n with its collapsed text,
// skipping leaves whose text is blank.
func (d *Document) LeafTexts(n *html.Node) []Leaf {
	if n == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Leaf
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if IsLeaf(cur) {
			if t := CollapseSpace(TextContent(cur)); t != "" {
				out = append(out, Leaf{Node: cur, Text: t})
			}
			return
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// IsLeaf reports whether n is an element without element children.
// Non-content elements (script, style, head, title, ...) are never leaves.
func IsLeaf(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if isNonContent(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return false
		}
	}
	return true
}

func isNonContent(n *html.Node) bool {
	switch strings.ToLower(n.Data) {
	case "script", "style", "noscript", "head", "title", "meta", "link", "template", "iframe":
		return true
	}
	return false
}

// TextContent concatenates all text nodes under n, skipping script and style.
func TextContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur.Type == html.TextNode {
			b.WriteString(cur.Data)
			return
		}
		if cur.Type == html.ElementNode && isNonContent(cur) {
			return
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// FindFirst returns the first element named tag in depth-first order.
func FindFirst(n *html.Node, tag string) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && strings.EqualFold(n.Data, tag) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if res := FindFirst(c, tag); res != nil {
			return res
		}
	}
	return nil
}

// Attr returns the value of key on n.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if !strings.EqualFold(a.Key, key) {
			out = append(out, a)
		}
	}
	n.Attr = out
}

// CollapseSpace collapses whitespace runs to single spaces and trims.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
