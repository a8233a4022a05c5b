package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

// Bus channels and streams shared with the HTTP hub.
const (
	ChannelOpportunities = "opportunities"
	ChannelScans         = "scans"
	StreamOpportunities  = "stream:opportunities"
)

// OpportunityEvent is the wire form of an opportunity. Prices are minor units.
type OpportunityEvent struct {
	ID              string    `json:"id"`
	ScanID          string    `json:"scan_id"`
	UserID          string    `json:"user_id"`
	ItemID          string    `json:"item_id"`
	Title           string    `json:"title"`
	Game            string    `json:"game"`
	BuyPrice        int64     `json:"buy_price"`
	TargetSellPrice int64     `json:"target_sell_price"`
	EstimatedProfit string    `json:"estimated_profit"`
	ProfitPercent   float64   `json:"profit_percent"`
	DetectedAt      time.Time `json:"detected_at"`
}

// OpportunityEventFrom converts opp to its wire form.
func OpportunityEventFrom(opp domain.Opportunity) OpportunityEvent {
	return OpportunityEvent{
		ID:              opp.ID,
		ScanID:          opp.ScanID,
		UserID:          opp.UserID,
		ItemID:          opp.ItemID,
		Title:           opp.Title,
		Game:            string(opp.Game),
		BuyPrice:        opp.BuyPrice,
		TargetSellPrice: opp.TargetSellPrice,
		EstimatedProfit: opp.EstimatedProfit.String(),
		ProfitPercent:   opp.ProfitPercent,
		DetectedAt:      opp.DetectedAt,
	}
}

// ScanEvent is the wire form of a checkpoint state change.
type ScanEvent struct {
	ScanID         string    `json:"scan_id"`
	UserID         string    `json:"user_id"`
	OperationType  string    `json:"operation_type"`
	Status         string    `json:"status"`
	Cursor         string    `json:"cursor,omitempty"`
	ProcessedItems int64     `json:"processed_items"`
	TotalItems     *int64    `json:"total_items,omitempty"`
	Opportunities  int       `json:"opportunities"`
	Reason         string    `json:"reason,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ScanEventFrom converts a checkpoint and the opportunities found in this run.
func ScanEventFrom(cp domain.Checkpoint, found int) ScanEvent {
	return ScanEvent{
		ScanID:         cp.ScanID,
		UserID:         cp.UserID,
		OperationType:  cp.OperationType,
		Status:         string(cp.Status),
		Cursor:         cp.Cursor,
		ProcessedItems: cp.ProcessedItems,
		TotalItems:     cp.TotalItems,
		Opportunities:  found,
		Reason:         cp.Reason,
		UpdatedAt:      cp.UpdatedAt,
	}
}

// EventPublisher writes scan events to the signal bus. A nil publisher
// drops events.
type EventPublisher struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEventPublisher creates a publisher on bus.
func NewEventPublisher(bus domain.SignalBus, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{bus: bus, logger: logger.With(slog.String("component", "scan_events"))}
}

// Publish broadcasts ev on the scans channel. Bus failures are logged only.
func (p *EventPublisher) Publish(ctx context.Context, ev ScanEvent) {
	if p == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, ChannelScans, payload); err != nil {
		p.logger.WarnContext(ctx, "scan event publish failed",
			slog.String("scan_id", ev.ScanID),
			slog.String("error", err.Error()),
		)
	}
}

// BusSink publishes each opportunity live and appends it to a replayable
// stream.
type BusSink struct {
	Bus domain.SignalBus
}

func (s BusSink) Emit(ctx context.Context, opp domain.Opportunity) error {
	payload, err := json.Marshal(OpportunityEventFrom(opp))
	if err != nil {
		return fmt.Errorf("bus sink: marshal: %w", err)
	}
	if err := s.Bus.Publish(ctx, ChannelOpportunities, payload); err != nil {
		return fmt.Errorf("bus sink: %w", err)
	}
	if err := s.Bus.StreamAppend(ctx, StreamOpportunities, payload); err != nil {
		return fmt.Errorf("bus sink: %w", err)
	}
	return nil
}
