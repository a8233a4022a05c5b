package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity is a detected arbitrage candidate. EstimatedProfit is in minor
// units and may carry a fractional part once fees are applied.
type Opportunity struct {
	ID              string
	ScanID          string
	UserID          string
	ItemID          string
	Title           string
	Game            Game
	BuyPrice        int64
	TargetSellPrice int64
	EstimatedProfit decimal.Decimal
	ProfitPercent   float64
	DetectedAt      time.Time
}
