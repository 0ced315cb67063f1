package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hephyrius/selfmarket/internal/domain"
)

// VoteStore implements domain.VoteStore using PostgreSQL.
type VoteStore struct {
	pool *pgxpool.Pool
}

// NewVoteStore creates a new VoteStore backed by the given connection pool.
func NewVoteStore(pool *pgxpool.Pool) *VoteStore {
	return &VoteStore{pool: pool}
}

// UpsertProposal writes a criteria proposal and its current weight.
func (s *VoteStore) UpsertProposal(ctx context.Context, p domain.CriteriaProposal) error {
	const query = `
		INSERT INTO criteria_proposals (market_id, ordinal, text, proposer, weight)
		VALUES ($1, $2, $3, $4, $5::numeric)
		ON CONFLICT (market_id, ordinal) DO UPDATE SET
			weight = EXCLUDED.weight`

	_, err := s.pool.Exec(ctx, query,
		p.MarketID, p.Ordinal, p.Text, p.Proposer.Hex(), numericStr(p.Weight))
	if err != nil {
		return fmt.Errorf("postgres: upsert proposal %s/%d: %w", p.MarketID, p.Ordinal, err)
	}
	return nil
}

// ListProposals returns a market's proposals in ordinal order.
func (s *VoteStore) ListProposals(ctx context.Context, marketID string) ([]domain.CriteriaProposal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, ordinal, text, proposer, weight::text
		 FROM criteria_proposals WHERE market_id = $1 ORDER BY ordinal`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list proposals %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.CriteriaProposal
	for rows.Next() {
		var (
			p        domain.CriteriaProposal
			proposer string
			weight   string
		)
		if err := rows.Scan(&p.MarketID, &p.Ordinal, &p.Text, &proposer, &weight); err != nil {
			return nil, fmt.Errorf("postgres: scan proposal: %w", err)
		}
		p.Proposer = common.HexToAddress(proposer)
		if p.Weight, err = parseNumeric(weight); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list proposals rows: %w", err)
	}
	return out, nil
}

// InsertVote records a cast vote. The primary key (market_id, voter)
// enforces the one-vote-per-LP rule at the storage layer as well.
func (s *VoteStore) InsertVote(ctx context.Context, v domain.Vote) error {
	const query = `
		INSERT INTO criteria_votes (market_id, voter, ordinal, weight, cast_at)
		VALUES ($1, $2, $3, $4::numeric, $5)`

	_, err := s.pool.Exec(ctx, query,
		v.MarketID, v.Voter.Hex(), v.Ordinal, numericStr(v.Weight), v.CastAt)
	if err != nil {
		return fmt.Errorf("postgres: insert vote %s/%s: %w", v.MarketID, v.Voter, err)
	}
	return nil
}

// ListVotes returns every vote cast in a market.
func (s *VoteStore) ListVotes(ctx context.Context, marketID string) ([]domain.Vote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, voter, ordinal, weight::text, cast_at
		 FROM criteria_votes WHERE market_id = $1 ORDER BY cast_at`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list votes %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.Vote
	for rows.Next() {
		var (
			v      domain.Vote
			voter  string
			weight string
		)
		if err := rows.Scan(&v.MarketID, &voter, &v.Ordinal, &weight, &v.CastAt); err != nil {
			return nil, fmt.Errorf("postgres: scan vote: %w", err)
		}
		v.Voter = common.HexToAddress(voter)
		if v.Weight, err = parseNumeric(weight); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list votes rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.VoteStore = (*VoteStore)(nil)
