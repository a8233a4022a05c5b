package arbitrage

import (
	"context"
	"slices"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

// Cheapest buys the lowest-priced listing of each title and prices it
// against the next-lowest comparable listing on the same page. Titles with a
// single listing have no comparable and are skipped.
type Cheapest struct{}

func (Cheapest) Name() string { return "cheapest" }

func (Cheapest) Detect(_ context.Context, listings []domain.Listing, p Params) ([]domain.Opportunity, error) {
	type hit struct {
		pos int
		opp domain.Opportunity
	}
	pos := make(map[string]int, len(listings))
	for i, l := range listings {
		if _, ok := pos[l.ItemID]; !ok {
			pos[l.ItemID] = i
		}
	}

	var hits []hit
	for _, g := range GroupByTitle(listings) {
		buy, at := g.Cheapest()
		sell, ok := g.RunnerUp(at)
		if !ok {
			continue
		}
		if opp, ok := Evaluate(buy.Price, sell.Price, p.FeePercent, p.MinProfitPercent); ok {
			hits = append(hits, hit{pos: pos[buy.ItemID], opp: withListing(opp, buy)})
		}
	}
	slices.SortStableFunc(hits, func(a, b hit) int { return a.pos - b.pos })

	out := make([]domain.Opportunity, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.opp)
	}
	return out, nil
}
