package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a store backed by pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunityCols = `id, scan_id, user_id, item_id, title, game, buy_price, target_sell_price,
	estimated_profit::text, profit_percent, detected_at`

// Insert stores an opportunity. Re-inserting the same id is a no-op so a
// replayed page does not fail the scan.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	const query = `
		INSERT INTO opportunities (
			id, scan_id, user_id, item_id, title, game, buy_price, target_sell_price,
			estimated_profit, profit_percent, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		opp.ID, opp.ScanID, opp.UserID, opp.ItemID, opp.Title, string(opp.Game),
		opp.BuyPrice, opp.TargetSellPrice, opp.EstimatedProfit.String(), opp.ProfitPercent, opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// List returns opportunities newest first.
func (s *OpportunityStore) List(ctx context.Context, q domain.OpportunityQuery) ([]domain.Opportunity, error) {
	var w whereClause
	if q.Game != "" {
		w.add("game = $%d", string(q.Game))
	}
	if q.ScanID != "" {
		w.add("scan_id = $%d", q.ScanID)
	}
	if q.Since != nil {
		w.add("detected_at >= $%d", *q.Since)
	}
	if q.Until != nil {
		w.add("detected_at < $%d", *q.Until)
	}
	query := `SELECT ` + opportunityCols + ` FROM opportunities` + w.String() + ` ORDER BY detected_at DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", w.next(q.Limit))
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", w.next(q.Offset))
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()

	var out []domain.Opportunity
	for rows.Next() {
		var (
			opp    domain.Opportunity
			game   string
			profit string
		)
		if err := rows.Scan(&opp.ID, &opp.ScanID, &opp.UserID, &opp.ItemID, &opp.Title, &game,
			&opp.BuyPrice, &opp.TargetSellPrice, &profit, &opp.ProfitPercent, &opp.DetectedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		opp.Game = domain.Game(game)
		if opp.EstimatedProfit, err = decimal.NewFromString(profit); err != nil {
			return nil, fmt.Errorf("postgres: parse estimated profit %q: %w", profit, err)
		}
		out = append(out, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list opportunities rows: %w", err)
	}
	return out, nil
}

// DeleteBefore removes opportunities detected before cutoff.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM opportunities WHERE detected_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities: %w", err)
	}
	return tag.RowsAffected(), nil
}
