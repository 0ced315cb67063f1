// Package engine implements the market core: the phase state machine, the
// LP contribution ledger, criteria proposal/voting, and constant-product
// trading. A Market is a single logical state machine; every operation
// executes atomically under one mutex and either completes in full or
// leaves the state untouched.
package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hephyrius/selfmarket/internal/domain"
)

// proposal is one candidate resolution criteria. Slice position is the
// proposal ordinal and the tie-breaker at winner selection.
type proposal struct {
	text     string
	proposer common.Address
	weight   *big.Int
}

// Market owns all mutable state for one prediction market. External
// collaborators (collateral asset, share tokens) are capabilities injected
// at construction; the market never observes their state except through
// the calls it makes.
type Market struct {
	mu sync.Mutex

	id         string
	question   string
	cfg        domain.MarketConfig
	collateral domain.CollateralAsset
	collAddr   common.Address
	account    common.Address
	yesToken   domain.ShareToken
	noToken    domain.ShareToken

	phase           domain.Phase
	createdAt       time.Time
	seedingDeadline time.Time
	votingDeadline  time.Time
	endedAt         *time.Time

	contributions map[common.Address]*big.Int
	total         *big.Int

	proposals   []proposal
	proposalIdx map[string]int
	voted       map[common.Address]int // voter -> proposal ordinal

	resolutionCriteria string
	reserveYes         *big.Int
	reserveNo          *big.Int

	now func() time.Time
}

// Option customizes Market construction.
type Option func(*Market)

// WithClock overrides the market's time source. Used by tests and by
// deterministic replay.
func WithClock(now func() time.Time) Option {
	return func(m *Market) { m.now = now }
}

// New creates a market in SEEDING with its seeding deadline fixed relative
// to the current clock.
func New(
	id, question string,
	collateral domain.CollateralAsset,
	collateralAddr, account common.Address,
	yesToken, noToken domain.ShareToken,
	cfg domain.MarketConfig,
	opts ...Option,
) *Market {
	m := &Market{
		id:            id,
		question:      question,
		cfg:           cfg,
		collateral:    collateral,
		collAddr:      collateralAddr,
		account:       account,
		yesToken:      yesToken,
		noToken:       noToken,
		phase:         domain.PhaseSeeding,
		contributions: make(map[common.Address]*big.Int),
		total:         new(big.Int),
		proposalIdx:   make(map[string]int),
		voted:         make(map[common.Address]int),
		reserveYes:    new(big.Int),
		reserveNo:     new(big.Int),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.createdAt = m.now()
	m.seedingDeadline = m.createdAt.Add(cfg.SeedingDuration)
	return m
}

// ID returns the market's identifier.
func (m *Market) ID() string { return m.id }

// Question returns the immutable market question.
func (m *Market) Question() string { return m.question }

// Account returns the market's own ledger address.
func (m *Market) Account() common.Address { return m.account }

// YesToken returns the YES outcome share token.
func (m *Market) YesToken() domain.ShareToken { return m.yesToken }

// NoToken returns the NO outcome share token.
func (m *Market) NoToken() domain.ShareToken { return m.noToken }

// Phase returns the current phase.
func (m *Market) Phase() domain.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// TotalLPContributions returns the running total of seeded collateral.
func (m *Market) TotalLPContributions() *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.total)
}

// Contribution returns addr's cumulative seeded collateral.
func (m *Market) Contribution(addr common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contributions[addr]; ok {
		return new(big.Int).Set(c)
	}
	return new(big.Int)
}

// ResolutionCriteria returns the locked-in criteria, empty before the
// VOTING to TRADING transition (and afterwards too when nothing was
// proposed, in which case resolution is manual).
func (m *Market) ResolutionCriteria() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolutionCriteria
}

// Prices returns the normalized YES/NO price pair. Zero before TRADING.
func (m *Market) Prices() domain.Prices {
	m.mu.Lock()
	defer m.mu.Unlock()
	return normalizedPrices(m.reserveYes, m.reserveNo)
}

// Reserves returns copies of the current pool reserves.
func (m *Market) Reserves() (yes, no *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.reserveYes), new(big.Int).Set(m.reserveNo)
}

// Proposals returns the proposed criteria in proposal order.
func (m *Market) Proposals() []domain.CriteriaProposal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CriteriaProposal, len(m.proposals))
	for i, p := range m.proposals {
		out[i] = domain.CriteriaProposal{
			MarketID: m.id,
			Ordinal:  i,
			Text:     p.text,
			Proposer: p.proposer,
			Weight:   new(big.Int).Set(p.weight),
		}
	}
	return out
}

// Contributions returns the LP ledger as a slice, one entry per address.
func (m *Market) Contributions() []domain.Contribution {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Contribution, 0, len(m.contributions))
	for addr, amt := range m.contributions {
		out = append(out, domain.Contribution{
			MarketID: m.id,
			Address:  addr,
			Amount:   new(big.Int).Set(amt),
		})
	}
	return out
}

// Snapshot captures the market's observable state for persistence and
// serving.
func (m *Market) Snapshot() domain.Market {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := domain.Market{
		ID:                   m.id,
		Question:             m.question,
		Phase:                m.phase,
		Collateral:           m.collAddr,
		Account:              m.account,
		YesToken:             m.yesToken.Address(),
		NoToken:              m.noToken.Address(),
		SeedingDeadline:      m.seedingDeadline,
		VotingDeadline:       m.votingDeadline,
		VotingDuration:       m.cfg.VotingDuration,
		MinSeedAmount:        new(big.Int).Set(m.cfg.MinSeedAmount),
		MinTradeAmount:       new(big.Int).Set(m.cfg.MinTradeAmount),
		FeeRateBps:           m.cfg.FeeRateBps,
		TotalLPContributions: new(big.Int).Set(m.total),
		ResolutionCriteria:   m.resolutionCriteria,
		ReserveYes:           new(big.Int).Set(m.reserveYes),
		ReserveNo:            new(big.Int).Set(m.reserveNo),
		CreatedAt:            m.createdAt,
		UpdatedAt:            m.now(),
	}
	if m.endedAt != nil {
		t := *m.endedAt
		snap.EndedAt = &t
	}
	return snap
}

// Seed deposits collateral during SEEDING and credits the caller's LP
// contribution. The external transfer happens before the ledger update so
// a rejected transfer leaves the ledger untouched.
func (m *Market) Seed(ctx context.Context, from common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != domain.PhaseSeeding {
		return fmt.Errorf("engine: seed in %s: %w", m.phase, domain.ErrWrongPhase)
	}
	if err := m.checkMin(amount, m.cfg.MinSeedAmount); err != nil {
		return fmt.Errorf("engine: seed: %w", err)
	}

	if err := m.collateral.TransferFrom(ctx, m.account, from, m.account, amount); err != nil {
		return fmt.Errorf("engine: seed collateral: %w: %v", domain.ErrTransferFailed, err)
	}

	cur, ok := m.contributions[from]
	if !ok {
		cur = new(big.Int)
		m.contributions[from] = cur
	}
	cur.Add(cur, amount)
	m.total.Add(m.total, amount)
	return nil
}

// StartVoting advances SEEDING to VOTING once the seeding deadline has
// passed. Any caller may trigger it. The voting deadline is fixed relative
// to the transition time.
func (m *Market) StartVoting() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != domain.PhaseSeeding {
		return fmt.Errorf("engine: start voting in %s: %w", m.phase, domain.ErrWrongPhase)
	}
	now := m.now()
	if now.Before(m.seedingDeadline) {
		return fmt.Errorf("engine: seeding until %s: %w", m.seedingDeadline.Format(time.RFC3339), domain.ErrPhaseNotReady)
	}

	m.phase = domain.PhaseVoting
	m.votingDeadline = now.Add(m.cfg.VotingDuration)
	return nil
}

// ProposeCriteria registers a new candidate resolution criteria. Only LPs
// who seeded may propose; duplicate texts are rejected.
func (m *Market) ProposeCriteria(from common.Address, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != domain.PhaseVoting {
		return fmt.Errorf("engine: propose in %s: %w", m.phase, domain.ErrWrongPhase)
	}
	if c, ok := m.contributions[from]; !ok || c.Sign() <= 0 {
		return fmt.Errorf("engine: propose by %s: %w", from, domain.ErrNotAnLP)
	}
	if _, ok := m.proposalIdx[text]; ok {
		return fmt.Errorf("engine: propose %q: %w", text, domain.ErrDuplicateCriteria)
	}

	m.proposalIdx[text] = len(m.proposals)
	m.proposals = append(m.proposals, proposal{
		text:     text,
		proposer: from,
		weight:   new(big.Int),
	})
	return nil
}

// VoteOnCriteria casts the caller's single vote, adding their contribution
// weight to the chosen criteria. Each LP votes exactly once; repeats are
// rejected rather than double-counted.
func (m *Market) VoteOnCriteria(from common.Address, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != domain.PhaseVoting {
		return fmt.Errorf("engine: vote in %s: %w", m.phase, domain.ErrWrongPhase)
	}
	idx, ok := m.proposalIdx[text]
	if !ok {
		return fmt.Errorf("engine: vote %q: %w", text, domain.ErrInvalidCriteria)
	}
	weight, ok := m.contributions[from]
	if !ok || weight.Sign() <= 0 {
		return fmt.Errorf("engine: vote by %s: %w", from, domain.ErrNotAnLP)
	}
	if _, ok := m.voted[from]; ok {
		return fmt.Errorf("engine: vote by %s: %w", from, domain.ErrAlreadyVoted)
	}

	m.voted[from] = idx
	p := m.proposals[idx]
	p.weight.Add(p.weight, weight)
	return nil
}

// StartTrading advances VOTING to TRADING once the voting deadline has
// passed. It locks in the winning criteria (highest weight, earliest
// proposal on a tie; empty when nothing was proposed), initializes both
// reserves at one share per unit of seeded collateral, and mints that many
// YES and NO shares to the market's own account.
func (m *Market) StartTrading(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != domain.PhaseVoting {
		return fmt.Errorf("engine: start trading in %s: %w", m.phase, domain.ErrWrongPhase)
	}
	if m.now().Before(m.votingDeadline) {
		return fmt.Errorf("engine: voting until %s: %w", m.votingDeadline.Format(time.RFC3339), domain.ErrPhaseNotReady)
	}

	if m.total.Sign() > 0 {
		if err := m.yesToken.Mint(ctx, m.account, m.account, m.total); err != nil {
			return fmt.Errorf("engine: mint yes reserve: %w: %v", domain.ErrTransferFailed, err)
		}
		if err := m.noToken.Mint(ctx, m.account, m.account, m.total); err != nil {
			// Unwind the YES mint so a failed transition has no effect.
			_ = m.yesToken.Burn(ctx, m.account, m.account, m.total)
			return fmt.Errorf("engine: mint no reserve: %w: %v", domain.ErrTransferFailed, err)
		}
	}

	m.resolutionCriteria = m.winningCriteria()
	m.reserveYes = new(big.Int).Set(m.total)
	m.reserveNo = new(big.Int).Set(m.total)
	m.phase = domain.PhaseTrading
	return nil
}

// winningCriteria picks the proposal with the highest weight. Callers hold
// m.mu. Iteration is in proposal order, and only a strictly greater weight
// displaces the leader, so ties resolve to the earliest proposal.
func (m *Market) winningCriteria() string {
	var winner string
	var best *big.Int
	for _, p := range m.proposals {
		if best == nil || p.weight.Cmp(best) > 0 {
			winner = p.text
			best = p.weight
		}
	}
	return winner
}

// End advances TRADING to ENDED. Resolution and settlement live outside
// the core; the market only accepts the trigger and becomes read-only.
func (m *Market) End() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != domain.PhaseTrading {
		return fmt.Errorf("engine: end in %s: %w", m.phase, domain.ErrWrongPhase)
	}
	now := m.now()
	m.endedAt = &now
	m.phase = domain.PhaseEnded
	return nil
}

// Buy swaps collateral for outcome shares during TRADING and returns the
// executed trade. The collateral transfer precedes any state change; the
// share payout follows, with the collateral refunded if it fails.
func (m *Market) Buy(ctx context.Context, from common.Address, outcome domain.Outcome, amountIn *big.Int) (domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != domain.PhaseTrading {
		return domain.Trade{}, fmt.Errorf("engine: buy in %s: %w", m.phase, domain.ErrWrongPhase)
	}
	if !outcome.Valid() {
		return domain.Trade{}, fmt.Errorf("engine: buy outcome %q: %w", outcome, domain.ErrInvalidCriteria)
	}
	if err := m.checkMin(amountIn, m.cfg.MinTradeAmount); err != nil {
		return domain.Trade{}, fmt.Errorf("engine: buy: %w", err)
	}

	reserveOut, reserveIn := m.reserveYes, m.reserveNo
	shareToken := m.yesToken
	if outcome == domain.OutcomeNo {
		reserveOut, reserveIn = m.reserveNo, m.reserveYes
		shareToken = m.noToken
	}

	quote, err := quoteBuy(reserveOut, reserveIn, amountIn, m.cfg.FeeRateBps)
	if err != nil {
		return domain.Trade{}, err
	}

	if err := m.collateral.TransferFrom(ctx, m.account, from, m.account, amountIn); err != nil {
		return domain.Trade{}, fmt.Errorf("engine: buy collateral: %w: %v", domain.ErrTransferFailed, err)
	}
	if err := shareToken.Transfer(ctx, m.account, from, quote.amountOut); err != nil {
		// Refund the collateral; the pool holds at least reserveOut shares
		// so this path only fires on a broken share token.
		_ = m.collateral.Transfer(ctx, m.account, from, amountIn)
		return domain.Trade{}, fmt.Errorf("engine: buy shares: %w: %v", domain.ErrTransferFailed, err)
	}

	if outcome == domain.OutcomeYes {
		m.reserveYes, m.reserveNo = quote.reserveOut, quote.reserveIn
	} else {
		m.reserveNo, m.reserveYes = quote.reserveOut, quote.reserveIn
	}

	return domain.Trade{
		MarketID:   m.id,
		Trader:     from,
		Side:       domain.TradeSideBuy,
		Outcome:    outcome,
		AmountIn:   new(big.Int).Set(amountIn),
		AmountOut:  quote.amountOut,
		Fee:        quote.fee,
		PriceYes:   normalizedPrices(m.reserveYes, m.reserveNo).Yes,
		ExecutedAt: m.now(),
	}, nil
}

// Sell swaps outcome shares back into collateral during TRADING. The share
// transfer into the pool precedes the collateral payout, which is unwound
// if the payout fails.
func (m *Market) Sell(ctx context.Context, from common.Address, outcome domain.Outcome, sharesIn *big.Int) (domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != domain.PhaseTrading {
		return domain.Trade{}, fmt.Errorf("engine: sell in %s: %w", m.phase, domain.ErrWrongPhase)
	}
	if !outcome.Valid() {
		return domain.Trade{}, fmt.Errorf("engine: sell outcome %q: %w", outcome, domain.ErrInvalidCriteria)
	}
	if err := m.checkMin(sharesIn, m.cfg.MinTradeAmount); err != nil {
		return domain.Trade{}, fmt.Errorf("engine: sell: %w", err)
	}

	reserveIn, reserveOut := m.reserveYes, m.reserveNo
	shareToken := m.yesToken
	if outcome == domain.OutcomeNo {
		reserveIn, reserveOut = m.reserveNo, m.reserveYes
		shareToken = m.noToken
	}

	quote, err := quoteSell(reserveIn, reserveOut, sharesIn, m.cfg.FeeRateBps)
	if err != nil {
		return domain.Trade{}, err
	}

	if err := shareToken.Transfer(ctx, from, m.account, sharesIn); err != nil {
		return domain.Trade{}, fmt.Errorf("engine: sell shares: %w: %v", domain.ErrTransferFailed, err)
	}
	if err := m.collateral.Transfer(ctx, m.account, from, quote.amountOut); err != nil {
		_ = shareToken.Transfer(ctx, m.account, from, sharesIn)
		return domain.Trade{}, fmt.Errorf("engine: sell collateral: %w: %v", domain.ErrTransferFailed, err)
	}

	if outcome == domain.OutcomeYes {
		m.reserveYes, m.reserveNo = quote.reserveIn, quote.reserveOut
	} else {
		m.reserveNo, m.reserveYes = quote.reserveIn, quote.reserveOut
	}

	return domain.Trade{
		MarketID:   m.id,
		Trader:     from,
		Side:       domain.TradeSideSell,
		Outcome:    outcome,
		AmountIn:   new(big.Int).Set(sharesIn),
		AmountOut:  quote.amountOut,
		Fee:        quote.fee,
		PriceYes:   normalizedPrices(m.reserveYes, m.reserveNo).Yes,
		ExecutedAt: m.now(),
	}, nil
}

// checkMin rejects nil, zero, and negative amounts outright, then enforces
// the configured floor. A zero amount fails even when the floor is zero.
func (m *Market) checkMin(amount, min *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrBelowMinimum
	}
	if min != nil && amount.Cmp(min) < 0 {
		return domain.ErrBelowMinimum
	}
	return nil
}
