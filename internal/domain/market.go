package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Phase is the lifecycle stage of a market. It only ever advances.
type Phase string

const (
	PhaseSeeding Phase = "seeding"
	PhaseVoting  Phase = "voting"
	PhaseTrading Phase = "trading"
	PhaseEnded   Phase = "ended"
)

// Valid reports whether p is one of the four known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseSeeding, PhaseVoting, PhaseTrading, PhaseEnded:
		return true
	}
	return false
}

// MarketConfig holds the per-market parameters fixed at creation.
type MarketConfig struct {
	SeedingDuration time.Duration
	VotingDuration  time.Duration
	MinSeedAmount   *big.Int
	MinTradeAmount  *big.Int
	FeeRateBps      int64 // trading fee in basis points, retained by the pool
}

// Market is a snapshot of a market's observable state. The live state is
// owned by the engine; this struct is what gets persisted, cached, and
// served over the API.
type Market struct {
	ID                   string
	Question             string
	Phase                Phase
	Collateral           common.Address
	Account              common.Address // the market's own ledger address
	YesToken             common.Address
	NoToken              common.Address
	SeedingDeadline      time.Time
	VotingDeadline       time.Time
	VotingDuration       time.Duration // needed to fix the voting deadline at SEEDING->VOTING
	MinSeedAmount        *big.Int
	MinTradeAmount       *big.Int
	FeeRateBps           int64
	TotalLPContributions *big.Int
	ResolutionCriteria   string
	ReserveYes           *big.Int
	ReserveNo            *big.Int
	Archived             bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
	EndedAt              *time.Time
}

// Contribution is one LP's cumulative seeded collateral in a market.
type Contribution struct {
	MarketID string
	Address  common.Address
	Amount   *big.Int
}

// CriteriaProposal is one proposed resolution criteria and its accumulated
// vote weight. Ordinal records proposal order and is the tie-breaker at
// winner selection (earliest proposed wins).
type CriteriaProposal struct {
	MarketID string
	Ordinal  int
	Text     string
	Proposer common.Address
	Weight   *big.Int
}

// Vote records that an LP has cast their (single) vote.
type Vote struct {
	MarketID string
	Voter    common.Address
	Ordinal  int // proposal voted for
	Weight   *big.Int
	CastAt   time.Time
}

// Prices is the normalized YES/NO price pair derived from the reserves.
// Yes + No == 1 up to float rounding.
type Prices struct {
	Yes float64
	No  float64
}
