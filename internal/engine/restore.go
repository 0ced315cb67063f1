package engine

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hephyrius/selfmarket/internal/domain"
)

// Restore rebuilds a live market from persisted state. Contributions,
// proposals, and votes must all belong to the snapshot's market; proposals
// are re-ordered by ordinal so tie-breaking survives restarts.
func Restore(
	snap domain.Market,
	contributions []domain.Contribution,
	proposals []domain.CriteriaProposal,
	votes []domain.Vote,
	collateral domain.CollateralAsset,
	yesToken, noToken domain.ShareToken,
	opts ...Option,
) (*Market, error) {
	if !snap.Phase.Valid() {
		return nil, fmt.Errorf("engine: restore %s: unknown phase %q", snap.ID, snap.Phase)
	}

	m := &Market{
		id:              snap.ID,
		question:        snap.Question,
		collateral:      collateral,
		collAddr:        snap.Collateral,
		account:         snap.Account,
		yesToken:        yesToken,
		noToken:         noToken,
		phase:           snap.Phase,
		createdAt:       snap.CreatedAt,
		seedingDeadline: snap.SeedingDeadline,
		votingDeadline:  snap.VotingDeadline,
		cfg: domain.MarketConfig{
			SeedingDuration: snap.SeedingDeadline.Sub(snap.CreatedAt),
			VotingDuration:  snap.VotingDuration,
			MinSeedAmount:   bigOrZero(snap.MinSeedAmount),
			MinTradeAmount:  bigOrZero(snap.MinTradeAmount),
			FeeRateBps:      snap.FeeRateBps,
		},
		contributions:      make(map[common.Address]*big.Int, len(contributions)),
		total:              bigOrZero(snap.TotalLPContributions),
		proposalIdx:        make(map[string]int, len(proposals)),
		voted:              make(map[common.Address]int, len(votes)),
		resolutionCriteria: snap.ResolutionCriteria,
		reserveYes:         bigOrZero(snap.ReserveYes),
		reserveNo:          bigOrZero(snap.ReserveNo),
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if snap.EndedAt != nil {
		t := *snap.EndedAt
		m.endedAt = &t
	}
	sum := new(big.Int)
	for _, c := range contributions {
		if c.MarketID != snap.ID {
			return nil, fmt.Errorf("engine: restore %s: contribution for %s", snap.ID, c.MarketID)
		}
		amt := bigOrZero(c.Amount)
		m.contributions[c.Address] = amt
		sum.Add(sum, amt)
	}
	if sum.Cmp(m.total) != 0 {
		return nil, fmt.Errorf("engine: restore %s: contribution sum %s != total %s", snap.ID, sum, m.total)
	}

	sorted := make([]domain.CriteriaProposal, len(proposals))
	copy(sorted, proposals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ordinal < sorted[j].Ordinal })
	for i, p := range sorted {
		if p.MarketID != snap.ID {
			return nil, fmt.Errorf("engine: restore %s: proposal for %s", snap.ID, p.MarketID)
		}
		if p.Ordinal != i {
			return nil, fmt.Errorf("engine: restore %s: proposal ordinal gap at %d", snap.ID, i)
		}
		m.proposalIdx[p.Text] = i
		m.proposals = append(m.proposals, proposal{
			text:     p.Text,
			proposer: p.Proposer,
			weight:   bigOrZero(p.Weight),
		})
	}

	for _, v := range votes {
		if v.MarketID != snap.ID {
			return nil, fmt.Errorf("engine: restore %s: vote for %s", snap.ID, v.MarketID)
		}
		if v.Ordinal < 0 || v.Ordinal >= len(m.proposals) {
			return nil, fmt.Errorf("engine: restore %s: vote for unknown proposal %d", snap.ID, v.Ordinal)
		}
		m.voted[v.Voter] = v.Ordinal
	}

	return m, nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
