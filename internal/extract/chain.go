// Package extract runs an ordered chain of text extraction strategies over
// a live document. A failing strategy never stops the chain.
package extract

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/gomoderate/internal/dom"
	"github.com/hyperifyio/gomoderate/internal/normalize"
	"github.com/hyperifyio/gomoderate/internal/platform"
)

// Report summarizes one strategy run.
type Report struct {
	Strategy string
	Count    int
	Err      error
}

// Chain holds strategies in execution order.
type Chain struct {
	Strategies []Strategy
}

// NewChain builds the chain for a detected profile.
func NewChain(p platform.Profile) *Chain {
	return &Chain{Strategies: ForProfile(p)}
}

// Run invokes every strategy in order and concatenates their normalized
// output. Strategy errors and panics are logged and contribute nothing.
func (c *Chain) Run(doc *dom.Document) ([]RawCandidate, []Report) {
	var all []RawCandidate
	reports := make([]Report, 0, len(c.Strategies))
	for _, s := range c.Strategies {
		got, err := runIsolated(s, doc)
		if err != nil {
			log.Warn().Err(err).Str("strategy", s.Name()).Msg("extraction strategy failed")
			reports = append(reports, Report{Strategy: s.Name(), Err: err})
			continue
		}
		kept := 0
		for _, cand := range got {
			cand.Text = normalize.Text(cand.Text)
			if cand.Text == "" {
				continue
			}
			if cand.Strategy == "" {
				cand.Strategy = s.Name()
			}
			all = append(all, cand)
			kept++
		}
		log.Debug().Str("strategy", s.Name()).Int("candidates", kept).Msg("strategy done")
		reports = append(reports, Report{Strategy: s.Name(), Count: kept})
	}
	return all, reports
}

func runIsolated(s Strategy, doc *dom.Document) (out []RawCandidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()
	return s.Extract(doc)
}
