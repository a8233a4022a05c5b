package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

// Reference measures every listing against the external reference price of
// its title. The reference is looked up once per title per page.
type Reference struct {
	refs   ReferenceSource
	logger *slog.Logger
}

// NewReference creates the reference-price strategy.
func NewReference(refs ReferenceSource, logger *slog.Logger) *Reference {
	return &Reference{refs: refs, logger: logger.With(slog.String("arb_strategy", "reference"))}
}

func (s *Reference) Name() string { return "reference" }

func (s *Reference) Detect(ctx context.Context, listings []domain.Listing, p Params) ([]domain.Opportunity, error) {
	prices := make(map[string]int64)
	for _, g := range GroupByTitle(listings) {
		game := g.Listings[0].Game
		price, err := s.refs.ReferencePrice(ctx, game, g.Title)
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.DebugContext(ctx, "no reference price", slog.String("title", g.Title))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("arbitrage: reference price %q: %w", g.Title, err)
		}
		prices[g.Title] = price
	}

	var out []domain.Opportunity
	for _, l := range listings {
		ref, ok := prices[l.Title]
		if !ok {
			continue
		}
		if opp, ok := Evaluate(l.Price, ref, p.FeePercent, p.MinProfitPercent); ok {
			out = append(out, withListing(opp, l))
		}
	}
	return out, nil
}
