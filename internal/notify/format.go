package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

// FormatOpportunity renders one opportunity alert.
func FormatOpportunity(opp domain.Opportunity) (title, message string) {
	title = fmt.Sprintf("Arbitrage: %s", opp.Title)
	message = strings.Join([]string{
		fmt.Sprintf("Game: %s", opp.Game),
		fmt.Sprintf("Buy: $%s", dollars(decimal.NewFromInt(opp.BuyPrice))),
		fmt.Sprintf("Sell target: $%s", dollars(decimal.NewFromInt(opp.TargetSellPrice))),
		fmt.Sprintf("Profit: $%s (%.2f%%)", dollars(opp.EstimatedProfit), opp.ProfitPercent),
		fmt.Sprintf("Item: %s", opp.ItemID),
	}, "\n")
	return title, message
}

// FormatScanResult renders the end-of-scan summary and the event it
// belongs to. A failed scan and a scan that found nothing are reported
// differently.
func FormatScanResult(cp domain.Checkpoint, found int) (event, title, message string) {
	lines := []string{
		fmt.Sprintf("Scan: %s", cp.ScanID),
		fmt.Sprintf("Processed: %d items", cp.ProcessedItems),
	}
	if cp.TotalItems != nil {
		lines = append(lines, fmt.Sprintf("Catalog size: %d", *cp.TotalItems))
	}

	switch cp.Status {
	case domain.ScanFailed:
		event, title = EventScanFailed, "Scan failed"
		lines = append(lines, fmt.Sprintf("Reason: %s", cp.Reason))
	case domain.ScanPaused:
		event, title = EventScanPaused, "Scan paused"
		lines = append(lines, fmt.Sprintf("Opportunities so far: %d", found))
	default:
		event = EventScanCompleted
		if found == 0 {
			title = "Scan completed: no opportunities"
		} else {
			title = fmt.Sprintf("Scan completed: %d opportunities", found)
		}
	}
	return event, title, strings.Join(lines, "\n")
}

func dollars(cents decimal.Decimal) string {
	return cents.Shift(-2).StringFixed(2)
}
