// Package format turns surviving candidates into content items.
package format

import (
	"time"

	"github.com/hyperifyio/gomoderate/internal/extract"
)

// ItemType distinguishes primary page content from replies.
type ItemType string

const (
	MainContent ItemType = "MainContent"
	Comment     ItemType = "Comment"
)

// Metadata is carried with each item to the classification service.
type Metadata struct {
	Type     ItemType `json:"type"`
	Platform string   `json:"platform"`
}

// ContentItem is one normalized, de-duplicated unit of text.
type ContentItem struct {
	URL       string    `json:"url"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata"`
}

// Batch is the ordered item list of one scrape; order is extraction order.
type Batch []ContentItem

// Texts returns the item texts in order.
func (b Batch) Texts() []string {
	out := make([]string, 0, len(b))
	for _, it := range b {
		out = append(out, it.Text)
	}
	return out
}

// Context stamps provenance onto items.
type Context struct {
	URL      string
	Platform string
	Now      time.Time
}

// Format maps candidates to items. A strategy hint decides the type when
// present; otherwise the first item is main content unless some item
// already is, and everything else is a comment. Empty texts are skipped.
func Format(cands []extract.RawCandidate, ctx Context) Batch {
	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	haveMain := false
	for _, c := range cands {
		if c.Hint == extract.HintMain {
			haveMain = true
			break
		}
	}
	out := make(Batch, 0, len(cands))
	for _, c := range cands {
		if c.Text == "" {
			continue
		}
		var typ ItemType
		switch c.Hint {
		case extract.HintMain:
			typ = MainContent
		case extract.HintComment:
			typ = Comment
		default:
			if !haveMain {
				typ = MainContent
				haveMain = true
			} else {
				typ = Comment
			}
		}
		out = append(out, ContentItem{
			URL:       ctx.URL,
			Text:      c.Text,
			Timestamp: now,
			Metadata:  Metadata{Type: typ, Platform: ctx.Platform},
		})
	}
	return out
}
