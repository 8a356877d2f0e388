package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// skipTag reports elements whose text is never human-authored content.
func skipTag(n *html.Node) bool {
	switch strings.ToLower(n.Data) {
	case "script", "style", "noscript", "template", "iframe", "svg":
		return true
	}
	return false
}

func isBlock(n *html.Node) bool {
	switch strings.ToLower(n.Data) {
	case "p", "div", "li", "br", "hr", "pre", "blockquote", "section", "article",
		"h1", "h2", "h3", "h4", "h5", "h6", "tr", "td", "th":
		return true
	}
	return false
}

// insideBoilerplate reports whether n or an ancestor is navigation, a
// footer, an aside or a cookie/consent banner.
func insideBoilerplate(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		switch strings.ToLower(cur.Data) {
		case "nav", "footer", "aside", "header":
			return true
		}
		if isBoilerplateContainer(cur) {
			return true
		}
	}
	return false
}

// isBoilerplateContainer returns true if the element looks like a cookie/consent banner.
func isBoilerplateContainer(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, attr := range n.Attr {
		key := strings.ToLower(attr.Key)
		if key != "id" && key != "class" && !strings.HasPrefix(key, "data-") && key != "aria-label" && key != "role" {
			continue
		}
		if containsAny(strings.ToLower(attr.Val), []string{"cookie", "consent", "gdpr"}) {
			return true
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
