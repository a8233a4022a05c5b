package arbitrage

import (
	"context"
	"strconv"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

// Suggested measures each listing against the marketplace's suggested price
// carried on the listing itself. Listings without one are skipped.
type Suggested struct{}

func (Suggested) Name() string { return "suggested" }

func (Suggested) Detect(_ context.Context, listings []domain.Listing, p Params) ([]domain.Opportunity, error) {
	var out []domain.Opportunity
	for _, l := range listings {
		target, err := strconv.ParseInt(l.Attr("suggested_price"), 10, 64)
		if err != nil {
			continue
		}
		if opp, ok := Evaluate(l.Price, target, p.FeePercent, p.MinProfitPercent); ok {
			out = append(out, withListing(opp, l))
		}
	}
	return out, nil
}
