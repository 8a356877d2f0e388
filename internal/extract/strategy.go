package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hyperifyio/gomoderate/internal/dom"
	"github.com/hyperifyio/gomoderate/internal/platform"
)

// Hint is a strategy's opinion on what a candidate is.
type Hint int

const (
	HintNone Hint = iota
	HintMain
	HintComment
)

// RawCandidate is one piece of text produced by one strategy run.
type RawCandidate struct {
	Text     string
	Strategy string
	Hint     Hint
}

// Strategy is one self-contained extraction procedure over a document.
// Implementations only read from doc and may fail independently.
type Strategy interface {
	Name() string
	Extract(doc *dom.Document) ([]RawCandidate, error)
}

// ForProfile returns the platform strategies for p followed by the
// generic strategies that run on every page.
func ForProfile(p platform.Profile) []Strategy {
	var out []Strategy
	switch p.Kind {
	case platform.Wikipedia:
		out = append(out, ArticleStrategy{Profile: p.Name, Selectors: p.Selectors})
	case platform.Reddit, platform.Twitter, platform.YouTube, platform.Forum:
		out = append(out, ThreadStrategy{Profile: p.Name, Selectors: p.Selectors})
	case platform.Generic:
	}
	return append(out, ParagraphStrategy{}, DeepTextStrategy{})
}

// ArticleStrategy reads the primary content of article-style pages. Every
// hit is main content.
type ArticleStrategy struct {
	Profile   string
	Selectors platform.Selectors
}

func (s ArticleStrategy) Name() string { return s.Profile + "/article" }

func (s ArticleStrategy) Extract(doc *dom.Document) ([]RawCandidate, error) {
	return selectTexts(doc, s.Name(), s.Selectors, false)
}

// ThreadStrategy reads a post and its replies. Post hits are main content,
// comment hits are comments.
type ThreadStrategy struct {
	Profile   string
	Selectors platform.Selectors
}

func (s ThreadStrategy) Name() string { return s.Profile + "/thread" }

func (s ThreadStrategy) Extract(doc *dom.Document) ([]RawCandidate, error) {
	return selectTexts(doc, s.Name(), s.Selectors, true)
}

func compile(sel string) (cascadia.Selector, error) {
	if strings.TrimSpace(sel) == "" {
		return nil, nil
	}
	m, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("selector %q: %w", sel, err)
	}
	return m, nil
}

func selectTexts(doc *dom.Document, name string, sel platform.Selectors, threaded bool) ([]RawCandidate, error) {
	mainSel, err := compile(sel.MainContent)
	if err != nil {
		return nil, err
	}
	commentSel, err := compile(sel.Comments)
	if err != nil {
		return nil, err
	}
	var excludeSels []cascadia.Selector
	for _, raw := range []string{sel.Author, sel.TimeFilter} {
		m, err := compile(raw)
		if err != nil {
			return nil, err
		}
		if m != nil {
			excludeSels = append(excludeSels, m)
		}
	}
	if mainSel == nil && commentSel == nil {
		return nil, fmt.Errorf("%s: profile has no content selectors", name)
	}

	var out []RawCandidate
	doc.Read(func(q *goquery.Document) {
		excluded := map[*html.Node]struct{}{}
		for _, m := range excludeSels {
			for _, n := range q.FindMatcher(m).Nodes {
				excluded[n] = struct{}{}
			}
		}
		collect := func(m cascadia.Selector, hint Hint) {
			if m == nil {
				return
			}
			q.FindMatcher(m).Each(func(_ int, s *goquery.Selection) {
				text := textExcluding(s.Get(0), excluded)
				if strings.TrimSpace(text) != "" {
					out = append(out, RawCandidate{Text: text, Strategy: name, Hint: hint})
				}
			})
		}
		collect(mainSel, HintMain)
		if threaded {
			collect(commentSel, HintComment)
		} else {
			collect(commentSel, HintMain)
		}
	})
	return out, nil
}

// textExcluding returns the text under n, leaving out excluded subtrees
// and non-content elements.
func textExcluding(n *html.Node, excluded map[*html.Node]struct{}) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if _, skip := excluded[cur]; skip {
			return
		}
		switch cur.Type {
		case html.TextNode:
			b.WriteString(cur.Data)
			return
		case html.ElementNode:
			if skipTag(cur) {
				return
			}
			if isBlock(cur) {
				b.WriteString("\n")
			}
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if cur.Type == html.ElementNode && isBlock(cur) {
			b.WriteString("\n")
		}
	}
	walk(n)
	return b.String()
}

// ParagraphStrategy scans paragraphs, articles, content containers and
// headings directly, ignoring navigation and consent boilerplate.
type ParagraphStrategy struct{}

const paragraphSelector = "p, article, .content, h1, h2, h3, h4, h5, h6"

func (ParagraphStrategy) Name() string { return "paragraphs" }

func (s ParagraphStrategy) Extract(doc *dom.Document) ([]RawCandidate, error) {
	var out []RawCandidate
	doc.Read(func(q *goquery.Document) {
		q.Find(paragraphSelector).Each(func(_ int, sel *goquery.Selection) {
			n := sel.Get(0)
			if insideBoilerplate(n) {
				return
			}
			text := textExcluding(n, nil)
			if strings.TrimSpace(text) != "" {
				out = append(out, RawCandidate{Text: text, Strategy: s.Name()})
			}
		})
	})
	return out, nil
}

// DeepTextStrategy walks every text node under <body>. It is the last
// resort for markup the other strategies do not understand.
type DeepTextStrategy struct{}

func (DeepTextStrategy) Name() string { return "deep-text" }

func (s DeepTextStrategy) Extract(doc *dom.Document) ([]RawCandidate, error) {
	body := doc.Body()
	if body == nil {
		return nil, fmt.Errorf("%s: document has no body", s.Name())
	}
	seen := map[string]struct{}{}
	var out []RawCandidate
	doc.Read(func(_ *goquery.Document) {
		var walk func(*html.Node)
		walk = func(n *html.Node) {
			if n.Type == html.ElementNode && skipTag(n) {
				return
			}
			if n.Type == html.TextNode {
				text := strings.TrimSpace(n.Data)
				if text == "" {
					return
				}
				if _, dup := seen[text]; dup {
					return
				}
				seen[text] = struct{}{}
				out = append(out, RawCandidate{Text: text, Strategy: s.Name()})
				return
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		walk(body)
	})
	return out, nil
}
