package arbitrage

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/skinbot/internal/clock"
	"github.com/alanyoungcy/skinbot/internal/domain"
)

// Detector runs one strategy over pages of listings and stamps each result
// with an id and detection time.
type Detector struct {
	strategy Strategy
	clock    clock.Clock
	logger   *slog.Logger
}

// NewDetector creates a detector for strategy. A nil clock uses the system clock.
func NewDetector(strategy Strategy, clk clock.Clock, logger *slog.Logger) *Detector {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Detector{
		strategy: strategy,
		clock:    clk,
		logger:   logger.With(slog.String("component", "arb_detector")),
	}
}

// Strategy returns the name of the active strategy.
func (d *Detector) Strategy() string { return d.strategy.Name() }

// Detect returns the opportunities in listings, in page order.
func (d *Detector) Detect(ctx context.Context, listings []domain.Listing, p Params) ([]domain.Opportunity, error) {
	if len(listings) == 0 {
		return nil, nil
	}
	opps, err := d.strategy.Detect(ctx, listings, p)
	if err != nil {
		return nil, err
	}
	now := d.clock.Now()
	for i := range opps {
		opps[i].ID = uuid.NewString()
		opps[i].DetectedAt = now
		d.logger.DebugContext(ctx, "opportunity detected",
			slog.String("item_id", opps[i].ItemID),
			slog.String("title", opps[i].Title),
			slog.Int64("buy", opps[i].BuyPrice),
			slog.Int64("target", opps[i].TargetSellPrice),
			slog.Float64("profit_pct", opps[i].ProfitPercent),
		)
	}
	return opps, nil
}
