package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// MutationRecord describes a change to the child list of Target.
// Attribute writes are not reported.
type MutationRecord struct {
	Target  *html.Node
	Added   []*html.Node
	Removed []*html.Node
}

// Observer receives mutation records after the tree lock is released.
type Observer func(MutationRecord)

// Document is a live HTML tree with a mutation notification stream.
// All tree and attribute writes go through its methods.
type Document struct {
	mu   sync.RWMutex
	root *html.Node
	url  string

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// Parse reads HTML from r and returns a document located at url.
func Parse(r io.Reader, url string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{root: root, url: url, observers: map[int]Observer{}}, nil
}

// ParseString is a convenience wrapper around Parse.
func ParseString(s string, url string) (*Document, error) {
	return Parse(strings.NewReader(s), url)
}

// URL returns the document location.
func (d *Document) URL() string { return d.url }

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Body returns the <body> element, or nil.
func (d *Document) Body() *html.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return FindFirst(d.root, "body")
}

// Query returns a goquery view over the current tree. Selections must be
// treated as read-only; writes go through Document methods.
func (d *Document) Query() *goquery.Document {
	return goquery.NewDocumentFromNode(d.root)
}

// Read runs fn while holding the tree read lock.
func (d *Document) Read(fn func(q *goquery.Document)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(d.Query())
}

// Observe registers fn for mutation records and returns a cancel func.
func (d *Document) Observe(fn Observer) (cancel func()) {
	d.obsMu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	d.obsMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.obsMu.Lock()
			delete(d.observers, id)
			d.obsMu.Unlock()
		})
	}
}

func (d *Document) notify(rec MutationRecord) {
	d.obsMu.Lock()
	list := make([]Observer, 0, len(d.observers))
	for _, fn := range d.observers {
		list = append(list, fn)
	}
	d.obsMu.Unlock()
	for _, fn := range list {
		fn(rec)
	}
}

// AppendChild attaches child as the last child of parent.
func (d *Document) AppendChild(parent, child *html.Node) {
	d.mu.Lock()
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	parent.AppendChild(child)
	d.mu.Unlock()
	d.notify(MutationRecord{Target: parent, Added: []*html.Node{child}})
}

// RemoveChild detaches n from its parent. Detached nodes are ignored.
func (d *Document) RemoveChild(n *html.Node) {
	d.mu.Lock()
	parent := n.Parent
	if parent == nil {
		d.mu.Unlock()
		return
	}
	parent.RemoveChild(n)
	d.mu.Unlock()
	d.notify(MutationRecord{Target: parent, Removed: []*html.Node{n}})
}

// ReplaceBody swaps the children of body for the children of the body in
// next. It is how a re-rendered page is folded into the live document.
func (d *Document) ReplaceBody(next *html.Node) {
	d.mu.Lock()
	body := FindFirst(d.root, "body")
	src := FindFirst(next, "body")
	if body == nil || src == nil {
		d.mu.Unlock()
		return
	}
	var removed, added []*html.Node
	for c := body.FirstChild; c != nil; {
		nx := c.NextSibling
		body.RemoveChild(c)
		removed = append(removed, c)
		c = nx
	}
	for c := src.FirstChild; c != nil; {
		nx := c.NextSibling
		src.RemoveChild(c)
		body.AppendChild(c)
		added = append(added, c)
		c = nx
	}
	d.mu.Unlock()
	d.notify(MutationRecord{Target: body, Added: added, Removed: removed})
}

// SetAttrs applies all pairs at once so readers never see a partial set.
func (d *Document) SetAttrs(n *html.Node, attrs map[string]string, remove ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range remove {
		removeAttr(n, k)
	}
	for k, v := range attrs {
		setAttr(n, k, v)
	}
}

// Attr returns the value of key on n.
func (d *Document) Attr(n *html.Node, key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Attr(n, key)
}

// Contains reports whether n is still attached under the document root.
func (d *Document) Contains(n *html.Node) bool {
	if n == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == d.root {
			return true
		}
	}
	return false
}

// Render serializes the current tree.
func (d *Document) Render(w io.Writer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return html.Render(w, d.root)
}

// String renders the tree to a string; render errors yield "".
func (d *Document) String() string {
	var b bytes.Buffer
	if err := d.Render(&b); err != nil {
		return ""
	}
	return b.String()
}
