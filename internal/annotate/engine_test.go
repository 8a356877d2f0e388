package annotate

import (
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/hyperifyio/gomoderate/internal/classify"
	"github.com/hyperifyio/gomoderate/internal/dom"
)

const hateText = "Some people spread hate about the XYZ group."

const thread = `<html><body><div id="thread">
<p id="a">Hello friends, the weather is lovely today.</p>
<p id="b" style="color: red" title="reply">` + hateText + ` Terrible.</p>
<p id="c">Another calm reply about gardening.</p>
</div></body></html>`

func load(t *testing.T, src string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString(src, "https://forum.example.com/t/1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func byID(n *html.Node, id string) *html.Node {
	if v, ok := dom.Attr(n, "id"); ok && v == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := byID(c, id); f != nil {
			return f
		}
	}
	return nil
}

func paragraph(text string) *html.Node {
	p := &html.Node{Type: html.ElementNode, Data: "p"}
	p.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return p
}

func flagged(text string) classify.Result {
	return classify.Result{Label: classify.Flagged, OriginalText: text, Classified: true}
}

func TestApply_RedactsOnlyTheMatchingLeaf(t *testing.T) {
	doc := load(t, thread)
	e := New(doc, Options{})
	defer e.Close()

	n := e.Apply([]classify.Result{
		{Label: classify.Safe, OriginalText: "Hello friends, the weather is lovely today."},
		flagged(hateText),
		{Label: classify.Moderate, OriginalText: "Another calm reply about gardening."},
	})
	if n != 1 || e.Len() != 1 {
		t.Fatalf("redacted=%d len=%d, want 1", n, e.Len())
	}
	root := doc.Root()
	b := byID(root, "b")
	if s, ok := e.State(b); !ok || s != Redacted {
		t.Fatalf("b state = %v,%v", s, ok)
	}
	style, _ := dom.Attr(b, "style")
	if !strings.Contains(style, "blur") || !strings.Contains(style, "cursor: pointer") || !strings.Contains(style, "color: red") {
		t.Fatalf("unexpected style %q", style)
	}
	if v, _ := dom.Attr(b, "data-moderation-label"); v != "Flagged" {
		t.Fatalf("label attr = %q", v)
	}
	if v, _ := dom.Attr(b, "title"); v != DefaultTooltip {
		t.Fatalf("title = %q", v)
	}
	for _, id := range []string{"a", "c"} {
		sib := byID(root, id)
		if _, ok := e.State(sib); ok {
			t.Fatalf("sibling %s annotated", id)
		}
		if len(sib.Attr) != 1 {
			t.Fatalf("sibling %s mutated: %+v", id, sib.Attr)
		}
	}
}

func TestApply_SafeAndModerateNeverMutate(t *testing.T) {
	doc := load(t, thread)
	before := doc.String()
	e := New(doc, Options{})
	defer e.Close()
	n := e.Apply([]classify.Result{
		{Label: classify.Safe, OriginalText: hateText},
		{Label: classify.Moderate, OriginalText: hateText},
	})
	if n != 0 || doc.String() != before {
		t.Fatalf("document changed for non-flagged results")
	}
}

func TestApply_EmptyFlaggedTextMatchesNothing(t *testing.T) {
	doc := load(t, thread)
	e := New(doc, Options{})
	defer e.Close()
	if n := e.Apply([]classify.Result{flagged("   ")}); n != 0 {
		t.Fatalf("empty pattern redacted %d nodes", n)
	}
}

func TestApply_MatchesNormalizedLeafText(t *testing.T) {
	doc := load(t, `<html><body><p id="x">Go away losers http://x.co at 3:45pm @bob</p></body></html>`)
	e := New(doc, Options{})
	defer e.Close()
	if n := e.Apply([]classify.Result{flagged("Go away losers at")}); n != 1 {
		t.Fatalf("expected normalized match, got %d", n)
	}
}

func TestFocusUnfocus_RoundTripEndsRedacted(t *testing.T) {
	doc := load(t, thread)
	e := New(doc, Options{})
	defer e.Close()
	e.Apply([]classify.Result{flagged(hateText)})
	b := byID(doc.Root(), "b")

	if e.Unfocus(b) {
		t.Fatalf("unfocus on a redacted node must not transition")
	}
	if !e.Focus(b) {
		t.Fatalf("focus did not reveal")
	}
	if s, _ := e.State(b); s != Revealed {
		t.Fatalf("state after focus = %v", s)
	}
	if style, _ := dom.Attr(b, "style"); strings.Contains(style, "blur") {
		t.Fatalf("revealed node still blurred: %q", style)
	}
	if e.Focus(b) {
		t.Fatalf("double focus transitioned")
	}
	if !e.Unfocus(b) {
		t.Fatalf("unfocus did not re-hide")
	}
	if s, _ := e.State(b); s != Redacted {
		t.Fatalf("final state = %v, want redacted", s)
	}
	if v, _ := dom.Attr(b, "data-moderation-state"); v != "redacted" {
		t.Fatalf("state attr = %q", v)
	}
	if e.Focus(byID(doc.Root(), "a")) {
		t.Fatalf("focus on an unannotated node transitioned")
	}
}

func TestMutation_PrunesRemovedNodes(t *testing.T) {
	doc := load(t, thread)
	e := New(doc, Options{})
	defer e.Close()
	e.Apply([]classify.Result{flagged(hateText)})
	b := byID(doc.Root(), "b")
	doc.RemoveChild(b)
	if e.Len() != 0 {
		t.Fatalf("removed node still tracked")
	}
	if e.Focus(b) {
		t.Fatalf("pruned node transitioned")
	}
}

func TestMutation_RematchIsOptIn(t *testing.T) {
	for _, rematch := range []bool{false, true} {
		doc := load(t, thread)
		e := New(doc, Options{Rematch: rematch})
		e.Apply([]classify.Result{flagged(hateText)})

		p := paragraph("Late reply: " + hateText)
		doc.AppendChild(byID(doc.Root(), "thread"), p)
		_, ok := e.State(p)
		if ok != rematch {
			t.Fatalf("rematch=%v: inserted node annotated=%v", rematch, ok)
		}
		e.Close()
	}
}

func TestMutation_ReplaceBodyWithRematch(t *testing.T) {
	doc := load(t, thread)
	e := New(doc, Options{Rematch: true})
	defer e.Close()
	e.Apply([]classify.Result{flagged(hateText)})

	next, err := html.Parse(strings.NewReader(`<html><body><section><p id="n">` + hateText + `</p></section></body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	doc.ReplaceBody(next)
	if e.Len() != 1 {
		t.Fatalf("expected old entry pruned and new one added, len=%d", e.Len())
	}
	if s, ok := e.State(byID(doc.Root(), "n")); !ok || s != Redacted {
		t.Fatalf("replacement not redacted")
	}
}

func TestRestore_PutsAttributesBack(t *testing.T) {
	doc := load(t, thread)
	e := New(doc, Options{})
	defer e.Close()
	e.Apply([]classify.Result{flagged(hateText)})
	b := byID(doc.Root(), "b")
	e.Restore()
	if style, _ := dom.Attr(b, "style"); style != "color: red" {
		t.Fatalf("style = %q", style)
	}
	if title, _ := dom.Attr(b, "title"); title != "reply" {
		t.Fatalf("title = %q", title)
	}
	if _, ok := dom.Attr(b, "data-moderation-state"); ok {
		t.Fatalf("state attribute left behind")
	}
	if n := e.Apply(nil); n != 1 {
		t.Fatalf("re-apply after restore redacted %d", n)
	}
}

func TestClose_StopsObserving(t *testing.T) {
	doc := load(t, thread)
	e := New(doc, Options{Rematch: true})
	e.Apply([]classify.Result{flagged(hateText)})
	e.Close()
	p := paragraph(hateText)
	doc.AppendChild(byID(doc.Root(), "thread"), p)
	if e.Len() != 0 || e.Apply([]classify.Result{flagged("other text")}) != 0 {
		t.Fatalf("closed engine still active")
	}
}
