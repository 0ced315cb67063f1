package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hephyrius/selfmarket/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Insert appends an executed trade and returns its assigned ID.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) (int64, error) {
	const query = `
		INSERT INTO trades (
			market_id, trader, side, outcome,
			amount_in, amount_out, fee, price_yes, executed_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		t.MarketID, t.Trader.Hex(), string(t.Side), string(t.Outcome),
		numericStr(t.AmountIn), numericStr(t.AmountOut), numericStr(t.Fee),
		t.PriceYes, t.ExecutedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert trade %s: %w", t.MarketID, err)
	}
	return id, nil
}

// ListByMarket returns a market's trades, newest first.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT id, market_id, trader, side, outcome,
		amount_in::text, amount_out::text, fee::text, price_yes, executed_at
		FROM trades WHERE market_id = $1`
	args := []any{marketID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY executed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var (
			t                      domain.Trade
			trader, side, outcome  string
			amountIn, amountOut    string
			fee                    string
		)
		if err := rows.Scan(&t.ID, &t.MarketID, &trader, &side, &outcome,
			&amountIn, &amountOut, &fee, &t.PriceYes, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		t.Trader = common.HexToAddress(trader)
		t.Side = domain.TradeSide(side)
		t.Outcome = domain.Outcome(outcome)
		if t.AmountIn, err = parseNumeric(amountIn); err != nil {
			return nil, err
		}
		if t.AmountOut, err = parseNumeric(amountOut); err != nil {
			return nil, err
		}
		if t.Fee, err = parseNumeric(fee); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades rows: %w", err)
	}
	return out, nil
}

// CountByMarket returns the number of trades in a market.
func (s *TradeStore) CountByMarket(ctx context.Context, marketID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM trades WHERE market_id = $1", marketID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count trades %s: %w", marketID, err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
