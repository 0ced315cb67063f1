package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hephyrius/selfmarket/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Upsert inserts or updates a single market snapshot.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, question, phase, collateral, account, yes_token, no_token,
			seeding_deadline, voting_deadline, voting_duration_secs,
			min_seed, min_trade, fee_rate_bps,
			total_contributions, resolution_criteria,
			reserve_yes, reserve_no, archived,
			created_at, updated_at, ended_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10,
			$11::numeric, $12::numeric, $13,
			$14::numeric, $15,
			$16::numeric, $17::numeric, $18,
			$19, NOW(), $20
		)
		ON CONFLICT (id) DO UPDATE SET
			phase               = EXCLUDED.phase,
			voting_deadline     = EXCLUDED.voting_deadline,
			total_contributions = EXCLUDED.total_contributions,
			resolution_criteria = EXCLUDED.resolution_criteria,
			reserve_yes         = EXCLUDED.reserve_yes,
			reserve_no          = EXCLUDED.reserve_no,
			archived            = EXCLUDED.archived,
			updated_at          = NOW(),
			ended_at            = EXCLUDED.ended_at`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Question, string(m.Phase),
		m.Collateral.Hex(), m.Account.Hex(), m.YesToken.Hex(), m.NoToken.Hex(),
		m.SeedingDeadline, nullableTime(m.VotingDeadline), int64(m.VotingDuration/time.Second),
		numericStr(m.MinSeedAmount), numericStr(m.MinTradeAmount), m.FeeRateBps,
		numericStr(m.TotalLPContributions), m.ResolutionCriteria,
		numericStr(m.ReserveYes), numericStr(m.ReserveNo), m.Archived,
		m.CreatedAt, m.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

const marketCols = `id, question, phase, collateral, account, yes_token, no_token,
	seeding_deadline, voting_deadline, voting_duration_secs,
	min_seed::text, min_trade::text, fee_rate_bps,
	total_contributions::text, resolution_criteria,
	reserve_yes::text, reserve_no::text, archived,
	created_at, updated_at, ended_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                                    domain.Market
		phase                                string
		collateral, account, yesTok, noTok   string
		votingDeadline                       *time.Time
		votingDurationSecs                   int64
		minSeed, minTrade, total, rYes, rNo  string
	)
	err := row.Scan(
		&m.ID, &m.Question, &phase, &collateral, &account, &yesTok, &noTok,
		&m.SeedingDeadline, &votingDeadline, &votingDurationSecs,
		&minSeed, &minTrade, &m.FeeRateBps,
		&total, &m.ResolutionCriteria,
		&rYes, &rNo, &m.Archived,
		&m.CreatedAt, &m.UpdatedAt, &m.EndedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}

	m.Phase = domain.Phase(phase)
	m.Collateral = common.HexToAddress(collateral)
	m.Account = common.HexToAddress(account)
	m.YesToken = common.HexToAddress(yesTok)
	m.NoToken = common.HexToAddress(noTok)
	if votingDeadline != nil {
		m.VotingDeadline = *votingDeadline
	}
	m.VotingDuration = time.Duration(votingDurationSecs) * time.Second

	if m.MinSeedAmount, err = parseNumeric(minSeed); err != nil {
		return domain.Market{}, err
	}
	if m.MinTradeAmount, err = parseNumeric(minTrade); err != nil {
		return domain.Market{}, err
	}
	if m.TotalLPContributions, err = parseNumeric(total); err != nil {
		return domain.Market{}, err
	}
	if m.ReserveYes, err = parseNumeric(rYes); err != nil {
		return domain.Market{}, err
	}
	if m.ReserveNo, err = parseNumeric(rNo); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns markets ordered by creation time, oldest first, with
// pagination and optional time filtering.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return s.list(ctx, `SELECT `+marketCols+` FROM markets WHERE 1=1`, nil, opts)
}

// ListByPhase returns markets currently in the given phase.
func (s *MarketStore) ListByPhase(ctx context.Context, phase domain.Phase, opts domain.ListOpts) ([]domain.Market, error) {
	return s.list(ctx,
		`SELECT `+marketCols+` FROM markets WHERE phase = $1`,
		[]any{string(phase)}, opts)
}

func (s *MarketStore) list(ctx context.Context, query string, args []any, opts domain.ListOpts) ([]domain.Market, error) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

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
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// MarkArchived flags a market as archived to cold storage.
func (s *MarketStore) MarkArchived(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET archived = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark archived %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
