package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hephyrius/selfmarket/internal/domain"
)

// ContributionStore implements domain.ContributionStore using PostgreSQL.
type ContributionStore struct {
	pool *pgxpool.Pool
}

// NewContributionStore creates a new ContributionStore backed by the given
// connection pool.
func NewContributionStore(pool *pgxpool.Pool) *ContributionStore {
	return &ContributionStore{pool: pool}
}

// Upsert writes an LP's cumulative contribution for a market.
func (s *ContributionStore) Upsert(ctx context.Context, c domain.Contribution) error {
	const query = `
		INSERT INTO lp_contributions (market_id, address, amount, updated_at)
		VALUES ($1, $2, $3::numeric, NOW())
		ON CONFLICT (market_id, address) DO UPDATE SET
			amount     = EXCLUDED.amount,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query, c.MarketID, c.Address.Hex(), numericStr(c.Amount))
	if err != nil {
		return fmt.Errorf("postgres: upsert contribution %s/%s: %w", c.MarketID, c.Address, err)
	}
	return nil
}

// Get retrieves one LP's contribution in a market.
func (s *ContributionStore) Get(ctx context.Context, marketID string, addr common.Address) (domain.Contribution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT market_id, address, amount::text FROM lp_contributions
		 WHERE market_id = $1 AND address = $2`,
		marketID, addr.Hex())

	c, err := scanContribution(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Contribution{}, domain.ErrNotFound
		}
		return domain.Contribution{}, fmt.Errorf("postgres: get contribution %s/%s: %w", marketID, addr, err)
	}
	return c, nil
}

// ListByMarket returns every LP contribution for a market.
func (s *ContributionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Contribution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, address, amount::text FROM lp_contributions
		 WHERE market_id = $1 ORDER BY address`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list contributions %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan contribution: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list contributions rows: %w", err)
	}
	return out, nil
}

func scanContribution(row pgx.Row) (domain.Contribution, error) {
	var (
		c       domain.Contribution
		address string
		amount  string
	)
	if err := row.Scan(&c.MarketID, &address, &amount); err != nil {
		return domain.Contribution{}, err
	}
	c.Address = common.HexToAddress(address)
	var err error
	if c.Amount, err = parseNumeric(amount); err != nil {
		return domain.Contribution{}, err
	}
	return c, nil
}

// Compile-time interface check.
var _ domain.ContributionStore = (*ContributionStore)(nil)
