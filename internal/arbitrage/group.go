package arbitrage

import (
	"github.com/alanyoungcy/skinbot/internal/domain"
)

// Group is the set of listings sharing one exact title.
type Group struct {
	Title    string
	Listings []domain.Listing
}

// GroupByTitle groups listings by case-sensitive title. Groups appear in
// order of first occurrence and keep page order internally.
func GroupByTitle(listings []domain.Listing) []Group {
	idx := make(map[string]int)
	var groups []Group
	for _, l := range listings {
		i, ok := idx[l.Title]
		if !ok {
			i = len(groups)
			idx[l.Title] = i
			groups = append(groups, Group{Title: l.Title})
		}
		groups[i].Listings = append(groups[i].Listings, l)
	}
	return groups
}

// less orders listings by price, breaking ties on the smaller item id.
func less(a, b domain.Listing) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	return a.ItemID < b.ItemID
}

// Cheapest returns the lowest-priced listing of g and its position.
func (g Group) Cheapest() (domain.Listing, int) {
	best := 0
	for i := 1; i < len(g.Listings); i++ {
		if less(g.Listings[i], g.Listings[best]) {
			best = i
		}
	}
	return g.Listings[best], best
}

// RunnerUp returns the cheapest listing other than the one at skip.
func (g Group) RunnerUp(skip int) (domain.Listing, bool) {
	found := -1
	for i, l := range g.Listings {
		if i == skip {
			continue
		}
		if found < 0 || less(l, g.Listings[found]) {
			found = i
		}
	}
	if found < 0 {
		return domain.Listing{}, false
	}
	return g.Listings[found], true
}
