// Package annotate redacts flagged text in a live document and tracks the
// reveal state of every redacted node.
package annotate

import (
	"strings"
	"sync"
	"weak"

	"github.com/cloudflare/ahocorasick"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"github.com/hyperifyio/gomoderate/internal/classify"
	"github.com/hyperifyio/gomoderate/internal/dom"
	"github.com/hyperifyio/gomoderate/internal/normalize"
)

// State is the display state of an annotated node.
type State int

const (
	Redacted State = iota + 1
	Revealed
)

func (s State) String() string {
	switch s {
	case Redacted:
		return "redacted"
	case Revealed:
		return "revealed"
	}
	return "none"
}

const (
	DefaultBlurStyle = "filter: blur(6px)"
	DefaultTooltip   = "Hidden: flagged as hate speech. Hover to reveal."

	attrState = "data-moderation-state"
	attrLabel = "data-moderation-label"
)

// Options configures an Engine.
type Options struct {
	// Rematch runs matching over subtrees inserted after the initial pass.
	Rematch   bool
	Tooltip   string
	BlurStyle string
}

// Annotation is the engine's record for one redacted node.
type Annotation struct {
	Label classify.Label
	State State
	// Match is the flagged text found in the node.
	Match string

	style, title       string
	hadStyle, hadTitle bool
}

type pattern struct {
	text  string
	label classify.Label
}

// Engine applies redaction to a document. Its table holds weak references
// only, so removed nodes can be collected; stale entries are pruned when
// the document reports a mutation.
type Engine struct {
	doc  *dom.Document
	opts Options

	mu       sync.Mutex
	table    map[weak.Pointer[html.Node]]*Annotation
	patterns []pattern
	seen     map[string]bool
	matcher  *ahocorasick.Matcher
	cancel   func()
	closed   bool
}

// New attaches an engine to doc and subscribes it to the mutation stream.
func New(doc *dom.Document, opts Options) *Engine {
	if opts.Tooltip == "" {
		opts.Tooltip = DefaultTooltip
	}
	if opts.BlurStyle == "" {
		opts.BlurStyle = DefaultBlurStyle
	}
	e := &Engine{
		doc:   doc,
		opts:  opts,
		table: map[weak.Pointer[html.Node]]*Annotation{},
		seen:  map[string]bool{},
	}
	e.cancel = doc.Observe(e.onMutation)
	return e
}

// Apply redacts every leaf whose text contains the original text of a
// Flagged result. Safe and Moderate results are ignored. It returns the
// number of nodes newly redacted.
func (e *Engine) Apply(results []classify.Result) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0
	}
	added := false
	for _, r := range results {
		if r.Label != classify.Flagged {
			continue
		}
		text := dom.CollapseSpace(r.OriginalText)
		// an empty pattern would match every leaf
		if text == "" || e.seen[text] {
			continue
		}
		e.seen[text] = true
		e.patterns = append(e.patterns, pattern{text: text, label: r.Label})
		added = true
	}
	if added {
		dict := make([]string, len(e.patterns))
		for i, p := range e.patterns {
			dict[i] = p.text
		}
		e.matcher = ahocorasick.NewStringMatcher(dict)
	}
	if e.matcher == nil {
		return 0
	}
	n := e.matchLocked(e.doc.Body())
	log.Debug().Int("patterns", len(e.patterns)).Int("redacted", n).Msg("annotation pass")
	return n
}

// matchLocked redacts matching leaves under root. e.mu must be held.
func (e *Engine) matchLocked(root *html.Node) int {
	if root == nil || e.matcher == nil {
		return 0
	}
	count := 0
	for _, leaf := range e.doc.LeafTexts(root) {
		key := weak.Make(leaf.Node)
		if _, ok := e.table[key]; ok {
			continue
		}
		p, ok := e.find(leaf.Text)
		if !ok {
			continue
		}
		e.redact(key, leaf.Node, p)
		count++
	}
	return count
}

// find returns the first pattern contained in text. Leaf text is checked
// both as rendered and in normalized form, since submitted texts had links,
// mentions and times stripped.
func (e *Engine) find(text string) (pattern, bool) {
	for _, hay := range []string{text, normalize.Text(text)} {
		for _, i := range e.matcher.Match([]byte(hay)) {
			p := e.patterns[i]
			if strings.Contains(hay, p.text) {
				return p, true
			}
		}
	}
	return pattern{}, false
}

func (e *Engine) redact(key weak.Pointer[html.Node], n *html.Node, p pattern) {
	a := &Annotation{Label: p.label, State: Redacted, Match: p.text}
	a.style, a.hadStyle = e.doc.Attr(n, "style")
	a.title, a.hadTitle = e.doc.Attr(n, "title")
	e.table[key] = a
	e.doc.SetAttrs(n, map[string]string{
		"style":   joinStyle(a.style, e.opts.BlurStyle, "cursor: pointer"),
		"title":   e.opts.Tooltip,
		attrState: Redacted.String(),
		attrLabel: p.label.String(),
	})
}

// Focus reveals a redacted node. It reports whether a transition happened.
func (e *Engine) Focus(n *html.Node) bool {
	return e.transition(n, Redacted, Revealed)
}

// Unfocus re-hides a revealed node. It reports whether a transition happened.
func (e *Engine) Unfocus(n *html.Node) bool {
	return e.transition(n, Revealed, Redacted)
}

func (e *Engine) transition(n *html.Node, from, to State) bool {
	if n == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.table[weak.Make(n)]
	if !ok || a.State != from {
		return false
	}
	style := joinStyle(a.style, e.opts.BlurStyle, "cursor: pointer")
	if to == Revealed {
		style = joinStyle(a.style, "cursor: pointer")
	}
	e.doc.SetAttrs(n, map[string]string{"style": style, attrState: to.String()})
	a.State = to
	return true
}

// State returns the annotation state of n, if it is annotated.
func (e *Engine) State(n *html.Node) (State, bool) {
	if n == nil {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.table[weak.Make(n)]
	if !ok {
		return 0, false
	}
	return a.State, true
}

// Len returns the number of live annotations.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.table)
}

// Count returns the number of annotations currently in state s.
func (e *Engine) Count(s State) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := 0
	for _, a := range e.table {
		if a.State == s {
			c++
		}
	}
	return c
}

// Restore removes all redaction attributes and forgets every annotation.
// Flagged patterns are kept, so a later Apply(nil) re-redacts.
func (e *Engine) Restore() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, a := range e.table {
		if n := key.Value(); n != nil {
			e.unredact(n, a)
		}
		delete(e.table, key)
	}
}

func (e *Engine) unredact(n *html.Node, a *Annotation) {
	set := map[string]string{}
	remove := []string{attrState, attrLabel}
	if a.hadStyle {
		set["style"] = a.style
	} else {
		remove = append(remove, "style")
	}
	if a.hadTitle {
		set["title"] = a.title
	} else {
		remove = append(remove, "title")
	}
	e.doc.SetAttrs(n, set, remove...)
}

// Close unsubscribes from the document and drops the table. Attributes
// already written stay in place.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	if e.cancel != nil {
		e.cancel()
	}
	clear(e.table)
}

func (e *Engine) onMutation(rec dom.MutationRecord) {
	log.Debug().Int("added", len(rec.Added)).Int("removed", len(rec.Removed)).Msg("document mutation")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	pruned := e.pruneLocked()
	if pruned > 0 {
		log.Debug().Int("pruned", pruned).Int("live", len(e.table)).Msg("annotations pruned")
	}
	if !e.opts.Rematch || len(rec.Added) == 0 || !e.doc.Contains(rec.Target) {
		return
	}
	// Target covers text nodes appended straight into an existing leaf.
	if n := e.matchLocked(rec.Target); n > 0 {
		log.Debug().Int("redacted", n).Msg("rematched inserted content")
	}
}

// pruneLocked drops entries whose node was collected or left the document.
func (e *Engine) pruneLocked() int {
	pruned := 0
	for key := range e.table {
		n := key.Value()
		if n == nil || !e.doc.Contains(n) {
			delete(e.table, key)
			pruned++
		}
	}
	return pruned
}

func joinStyle(parts ...string) string {
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(p), ";"))
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "; ") + ";"
}
