// Package arbitrage finds listings that can be resold at a profit after
// marketplace fees. A Strategy decides which sell-side price each listing is
// measured against.
package arbitrage

import (
	"context"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

// Params are the per-scan profitability settings.
type Params struct {
	FeePercent       float64
	MinProfitPercent float64
}

// Strategy detects opportunities on one page of listings. Results follow
// the order of the buy-side listings in the page.
type Strategy interface {
	Name() string
	Detect(ctx context.Context, listings []domain.Listing, p Params) ([]domain.Opportunity, error)
}

// ReferenceSource supplies an external sell-side price for a title.
// Implementations return domain.ErrNotFound when no price is known.
type ReferenceSource interface {
	ReferencePrice(ctx context.Context, game domain.Game, title string) (int64, error)
}

func withListing(opp domain.Opportunity, l domain.Listing) domain.Opportunity {
	opp.ItemID = l.ItemID
	opp.Title = l.Title
	opp.Game = l.Game
	return opp
}
