package engine_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hephyrius/selfmarket/internal/domain"
	"github.com/hephyrius/selfmarket/internal/engine"
	"github.com/hephyrius/selfmarket/internal/token"
)

var (
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	lp1      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	lp2      = common.HexToAddress("0x0000000000000000000000000000000000000002")
	trader   = common.HexToAddress("0x0000000000000000000000000000000000000003")
	collAddr = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	mktAddr  = common.HexToAddress("0x00000000000000000000000000000000000000dd")
	yesAddr  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	noAddr   = common.HexToAddress("0x00000000000000000000000000000000000000e2")
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	clock      *fakeClock
	collateral *token.Ledger
	yes        *token.Ledger
	no         *token.Ledger
	market     *engine.Market
}

func defaultConfig() domain.MarketConfig {
	return domain.MarketConfig{
		SeedingDuration: time.Hour,
		VotingDuration:  time.Hour,
		MinSeedAmount:   big.NewInt(100),
		MinTradeAmount:  big.NewInt(10),
		FeeRateBps:      30,
	}
}

// newFixture builds a market with an in-memory collateral ledger. Each
// funded address gets a collateral balance and unlimited allowance toward
// the market account.
func newFixture(t *testing.T, cfg domain.MarketConfig, funded ...common.Address) *fixture {
	t.Helper()
	ctx := context.Background()

	clock := newFakeClock()
	collateral := token.New("USD Coin", "USDC", 6, collAddr, treasury)
	yes := token.New("Yes Share", "YES", 6, yesAddr, mktAddr)
	no := token.New("No Share", "NO", 6, noAddr, mktAddr)

	for _, addr := range funded {
		if err := collateral.Mint(ctx, treasury, addr, big.NewInt(1_000_000)); err != nil {
			t.Fatalf("mint collateral: %v", err)
		}
		if err := collateral.Approve(ctx, addr, mktAddr, big.NewInt(1_000_000_000)); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}

	m := engine.New("mkt-1", "Will it rain in Cannes tomorrow?",
		collateral, collAddr, mktAddr, yes, no, cfg,
		engine.WithClock(clock.Now),
	)
	return &fixture{clock: clock, collateral: collateral, yes: yes, no: no, market: m}
}

// seedAndStartTrading drives the fixture through the happy path: LP1 seeds
// 10_000 and LP2 seeds 5_000, LP1 proposes and wins the vote, and trading
// begins with reserves at 15_000 each.
func (f *fixture) seedAndStartTrading(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	if err := f.market.Seed(ctx, lp1, big.NewInt(10_000)); err != nil {
		t.Fatalf("seed lp1: %v", err)
	}
	if err := f.market.Seed(ctx, lp2, big.NewInt(5_000)); err != nil {
		t.Fatalf("seed lp2: %v", err)
	}
	f.clock.Advance(time.Hour)
	if err := f.market.StartVoting(); err != nil {
		t.Fatalf("start voting: %v", err)
	}
	if err := f.market.ProposeCriteria(lp1, "A"); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := f.market.VoteOnCriteria(lp1, "A"); err != nil {
		t.Fatalf("vote: %v", err)
	}
	f.clock.Advance(time.Hour)
	if err := f.market.StartTrading(ctx); err != nil {
		t.Fatalf("start trading: %v", err)
	}
}

func TestSeedLedger(t *testing.T) {
	f := newFixture(t, defaultConfig(), lp1, lp2)
	ctx := context.Background()

	if err := f.market.Seed(ctx, lp1, big.NewInt(10_000)); err != nil {
		t.Fatalf("seed lp1: %v", err)
	}
	if err := f.market.Seed(ctx, lp2, big.NewInt(5_000)); err != nil {
		t.Fatalf("seed lp2: %v", err)
	}
	if err := f.market.Seed(ctx, lp1, big.NewInt(2_000)); err != nil {
		t.Fatalf("seed lp1 again: %v", err)
	}

	if got := f.market.TotalLPContributions(); got.Int64() != 17_000 {
		t.Errorf("total = %s, want 17000", got)
	}
	if got := f.market.Contribution(lp1); got.Int64() != 12_000 {
		t.Errorf("lp1 contribution = %s, want 12000", got)
	}
	if got := f.market.Contribution(lp2); got.Int64() != 5_000 {
		t.Errorf("lp2 contribution = %s, want 5000", got)
	}

	// Total equals the sum over the ledger.
	sum := new(big.Int)
	for _, c := range f.market.Contributions() {
		sum.Add(sum, c.Amount)
	}
	if sum.Cmp(f.market.TotalLPContributions()) != 0 {
		t.Errorf("ledger sum %s != total %s", sum, f.market.TotalLPContributions())
	}

	// Collateral actually moved to the market account.
	bal, err := f.collateral.BalanceOf(ctx, mktAddr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Int64() != 17_000 {
		t.Errorf("market collateral = %s, want 17000", bal)
	}
}

func TestSeedValidation(t *testing.T) {
	tests := []struct {
		name    string
		amount  *big.Int
		wantErr error
	}{
		{"below minimum", big.NewInt(99), domain.ErrBelowMinimum},
		{"one under minimum", big.NewInt(99), domain.ErrBelowMinimum},
		{"zero", big.NewInt(0), domain.ErrBelowMinimum},
		{"negative", big.NewInt(-5), domain.ErrBelowMinimum},
		{"nil", nil, domain.ErrBelowMinimum},
		{"at minimum", big.NewInt(100), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, defaultConfig(), lp1)
			err := f.market.Seed(context.Background(), lp1, tt.amount)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Seed(%v) error = %v, want %v", tt.amount, err, tt.wantErr)
			}
		})
	}
}

func TestSeedZeroRejectedEvenWithZeroMinimum(t *testing.T) {
	cfg := defaultConfig()
	cfg.MinSeedAmount = big.NewInt(0)
	f := newFixture(t, cfg, lp1)

	err := f.market.Seed(context.Background(), lp1, big.NewInt(0))
	if !errors.Is(err, domain.ErrBelowMinimum) {
		t.Fatalf("error = %v, want %v", err, domain.ErrBelowMinimum)
	}
}

func TestSeedTransferFailureRollsBack(t *testing.T) {
	f := newFixture(t, defaultConfig(), lp1)
	ctx := context.Background()

	// lp2 never approved the market, so the transfer is rejected.
	err := f.market.Seed(ctx, lp2, big.NewInt(5_000))
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("error = %v, want %v", err, domain.ErrTransferFailed)
	}
	if got := f.market.TotalLPContributions(); got.Sign() != 0 {
		t.Errorf("total = %s after failed seed, want 0", got)
	}
	if got := f.market.Contribution(lp2); got.Sign() != 0 {
		t.Errorf("lp2 contribution = %s after failed seed, want 0", got)
	}
}

func TestPhaseGating(t *testing.T) {
	f := newFixture(t, defaultConfig(), lp1)
	ctx := context.Background()

	// Voting and trading operations are invalid during SEEDING.
	if err := f.market.ProposeCriteria(lp1, "A"); !errors.Is(err, domain.ErrWrongPhase) {
		t.Errorf("propose in seeding: %v, want %v", err, domain.ErrWrongPhase)
	}
	if err := f.market.VoteOnCriteria(lp1, "A"); !errors.Is(err, domain.ErrWrongPhase) {
		t.Errorf("vote in seeding: %v, want %v", err, domain.ErrWrongPhase)
	}
	if _, err := f.market.Buy(ctx, lp1, domain.OutcomeYes, big.NewInt(100)); !errors.Is(err, domain.ErrWrongPhase) {
		t.Errorf("buy in seeding: %v, want %v", err, domain.ErrWrongPhase)
	}
	if err := f.market.End(); !errors.Is(err, domain.ErrWrongPhase) {
		t.Errorf("end in seeding: %v, want %v", err, domain.ErrWrongPhase)
	}

	// Transitions fail before their deadlines.
	if err := f.market.StartVoting(); !errors.Is(err, domain.ErrPhaseNotReady) {
		t.Errorf("early start voting: %v, want %v", err, domain.ErrPhaseNotReady)
	}
	if err := f.market.StartTrading(ctx); !errors.Is(err, domain.ErrWrongPhase) {
		t.Errorf("start trading in seeding: %v, want %v", err, domain.ErrWrongPhase)
	}

	if err := f.market.Seed(ctx, lp1, big.NewInt(1_000)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Exactly at the deadline the transition succeeds, and only once.
	f.clock.Advance(time.Hour)
	if err := f.market.StartVoting(); err != nil {
		t.Fatalf("start voting at deadline: %v", err)
	}
	if err := f.market.StartVoting(); !errors.Is(err, domain.ErrWrongPhase) {
		t.Errorf("second start voting: %v, want %v", err, domain.ErrWrongPhase)
	}
	if f.market.Phase() != domain.PhaseVoting {
		t.Fatalf("phase = %s, want voting", f.market.Phase())
	}

	// Seeding is closed once voting begins.
	if err := f.market.Seed(ctx, lp1, big.NewInt(1_000)); !errors.Is(err, domain.ErrWrongPhase) {
		t.Errorf("seed in voting: %v, want %v", err, domain.ErrWrongPhase)
	}

	if err := f.market.StartTrading(ctx); !errors.Is(err, domain.ErrPhaseNotReady) {
		t.Errorf("early start trading: %v, want %v", err, domain.ErrPhaseNotReady)
	}
	f.clock.Advance(time.Hour)
	if err := f.market.StartTrading(ctx); err != nil {
		t.Fatalf("start trading at deadline: %v", err)
	}
	if f.market.Phase() != domain.PhaseTrading {
		t.Fatalf("phase = %s, want trading", f.market.Phase())
	}

	if err := f.market.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	if f.market.Phase() != domain.PhaseEnded {
		t.Fatalf("phase = %s, want ended", f.market.Phase())
	}
	if _, err := f.market.Buy(ctx, lp1, domain.OutcomeYes, big.NewInt(100)); !errors.Is(err, domain.ErrWrongPhase) {
		t.Errorf("buy after end: %v, want %v", err, domain.ErrWrongPhase)
	}
}

func TestVoting(t *testing.T) {
	f := newFixture(t, defaultConfig(), lp1, lp2)
	ctx := context.Background()

	if err := f.market.Seed(ctx, lp1, big.NewInt(10_000)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := f.market.Seed(ctx, lp2, big.NewInt(5_000)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.clock.Advance(time.Hour)
	if err := f.market.StartVoting(); err != nil {
		t.Fatalf("start voting: %v", err)
	}

	// Non-LPs may neither propose nor vote.
	if err := f.market.ProposeCriteria(trader, "X"); !errors.Is(err, domain.ErrNotAnLP) {
		t.Errorf("propose by non-LP: %v, want %v", err, domain.ErrNotAnLP)
	}

	if err := f.market.ProposeCriteria(lp1, "A"); err != nil {
		t.Fatalf("propose A: %v", err)
	}
	if err := f.market.ProposeCriteria(lp2, "B"); err != nil {
		t.Fatalf("propose B: %v", err)
	}
	if err := f.market.ProposeCriteria(lp2, "A"); !errors.Is(err, domain.ErrDuplicateCriteria) {
		t.Errorf("duplicate propose: %v, want %v", err, domain.ErrDuplicateCriteria)
	}

	if err := f.market.VoteOnCriteria(trader, "A"); !errors.Is(err, domain.ErrNotAnLP) {
		t.Errorf("vote by non-LP: %v, want %v", err, domain.ErrNotAnLP)
	}
	if err := f.market.VoteOnCriteria(lp1, "C"); !errors.Is(err, domain.ErrInvalidCriteria) {
		t.Errorf("vote unproposed: %v, want %v", err, domain.ErrInvalidCriteria)
	}

	if err := f.market.VoteOnCriteria(lp1, "A"); err != nil {
		t.Fatalf("vote A: %v", err)
	}
	// One vote per LP; a repeat (even for another criteria) is rejected.
	if err := f.market.VoteOnCriteria(lp1, "B"); !errors.Is(err, domain.ErrAlreadyVoted) {
		t.Errorf("repeat vote: %v, want %v", err, domain.ErrAlreadyVoted)
	}
	if err := f.market.VoteOnCriteria(lp2, "B"); err != nil {
		t.Fatalf("vote B: %v", err)
	}

	props := f.market.Proposals()
	if len(props) != 2 {
		t.Fatalf("proposals = %d, want 2", len(props))
	}
	if props[0].Weight.Int64() != 10_000 {
		t.Errorf("A weight = %s, want 10000", props[0].Weight)
	}
	if props[1].Weight.Int64() != 5_000 {
		t.Errorf("B weight = %s, want 5000", props[1].Weight)
	}

	f.clock.Advance(time.Hour)
	if err := f.market.StartTrading(ctx); err != nil {
		t.Fatalf("start trading: %v", err)
	}
	if got := f.market.ResolutionCriteria(); got != "A" {
		t.Errorf("resolution criteria = %q, want A", got)
	}
}

func TestVotingTieBreaksToEarliestProposal(t *testing.T) {
	cfg := defaultConfig()
	f := newFixture(t, cfg, lp1, lp2)
	ctx := context.Background()

	// Equal contributions produce an exact tie.
	if err := f.market.Seed(ctx, lp1, big.NewInt(5_000)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := f.market.Seed(ctx, lp2, big.NewInt(5_000)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.clock.Advance(time.Hour)
	if err := f.market.StartVoting(); err != nil {
		t.Fatalf("start voting: %v", err)
	}
	if err := f.market.ProposeCriteria(lp2, "second pick"); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := f.market.ProposeCriteria(lp1, "first pick"); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := f.market.VoteOnCriteria(lp2, "first pick"); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := f.market.VoteOnCriteria(lp1, "second pick"); err != nil {
		t.Fatalf("vote: %v", err)
	}

	f.clock.Advance(time.Hour)
	if err := f.market.StartTrading(ctx); err != nil {
		t.Fatalf("start trading: %v", err)
	}
	// "second pick" was proposed first and wins the tie.
	if got := f.market.ResolutionCriteria(); got != "second pick" {
		t.Errorf("resolution criteria = %q, want %q", got, "second pick")
	}
}

func TestStartTradingWithoutProposals(t *testing.T) {
	f := newFixture(t, defaultConfig(), lp1)
	ctx := context.Background()

	if err := f.market.Seed(ctx, lp1, big.NewInt(10_000)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.clock.Advance(2 * time.Hour)
	if err := f.market.StartVoting(); err != nil {
		t.Fatalf("start voting: %v", err)
	}
	if err := f.market.StartTrading(ctx); err != nil {
		t.Fatalf("start trading: %v", err)
	}

	if got := f.market.ResolutionCriteria(); got != "" {
		t.Errorf("resolution criteria = %q, want empty", got)
	}
	if f.market.Phase() != domain.PhaseTrading {
		t.Errorf("phase = %s, want trading", f.market.Phase())
	}
}

func TestStartTradingInitializesReserves(t *testing.T) {
	f := newFixture(t, defaultConfig(), lp1, lp2)
	f.seedAndStartTrading(t)
	ctx := context.Background()

	yes, no := f.market.Reserves()
	if yes.Int64() != 15_000 || no.Int64() != 15_000 {
		t.Errorf("reserves = %s/%s, want 15000/15000", yes, no)
	}

	// The market minted one YES and one NO share per unit of collateral
	// to itself.
	yesBal, _ := f.yes.BalanceOf(ctx, mktAddr)
	noBal, _ := f.no.BalanceOf(ctx, mktAddr)
	if yesBal.Int64() != 15_000 || noBal.Int64() != 15_000 {
		t.Errorf("pool shares = %s/%s, want 15000/15000", yesBal, noBal)
	}

	p := f.market.Prices()
	if p.Yes != 0.5 || p.No != 0.5 {
		t.Errorf("initial prices = %+v, want 0.5/0.5", p)
	}
}

func TestBuyYes(t *testing.T) {
	f := newFixture(t, defaultConfig(), lp1, lp2, trader)
	f.seedAndStartTrading(t)
	ctx := context.Background()

	trade, err := f.market.Buy(ctx, trader, domain.OutcomeYes, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if trade.Fee.Int64() != 3 {
		t.Errorf("fee = %s, want 3", trade.Fee)
	}
	if trade.AmountOut.Int64() != 934 {
		t.Errorf("shares out = %s, want 934", trade.AmountOut)
	}

	yes, no := f.market.Reserves()
	if yes.Int64() != 14_066 || no.Int64() != 16_000 {
		t.Errorf("reserves = %s/%s, want 14066/16000", yes, no)
	}

	// The trader holds the shares; the pool keeps the rest.
	bal, _ := f.yes.BalanceOf(ctx, trader)
	if bal.Int64() != 934 {
		t.Errorf("trader yes balance = %s, want 934", bal)
	}

	p := f.market.Prices()
	if p.Yes <= 0.5 {
		t.Errorf("yes price = %v after yes buy, want > 0.5", p.Yes)
	}
}

func TestBuyValidation(t *testing.T) {
	f := newFixture(t, defaultConfig(), lp1, lp2, trader)
	f.seedAndStartTrading(t)
	ctx := context.Background()

	if _, err := f.market.Buy(ctx, trader, domain.OutcomeYes, big.NewInt(9)); !errors.Is(err, domain.ErrBelowMinimum) {
		t.Errorf("below min buy: %v, want %v", err, domain.ErrBelowMinimum)
	}
	if _, err := f.market.Buy(ctx, trader, domain.OutcomeYes, big.NewInt(0)); !errors.Is(err, domain.ErrBelowMinimum) {
		t.Errorf("zero buy: %v, want %v", err, domain.ErrBelowMinimum)
	}

	// A rejected collateral transfer leaves the reserves untouched.
	stranger := common.HexToAddress("0x0000000000000000000000000000000000000099")
	yesBefore, noBefore := f.market.Reserves()
	if _, err := f.market.Buy(ctx, stranger, domain.OutcomeYes, big.NewInt(1_000)); !errors.Is(err, domain.ErrTransferFailed) {
		t.Errorf("unfunded buy: %v, want %v", err, domain.ErrTransferFailed)
	}
	yesAfter, noAfter := f.market.Reserves()
	if yesBefore.Cmp(yesAfter) != 0 || noBefore.Cmp(noAfter) != 0 {
		t.Errorf("reserves changed after failed buy: %s/%s -> %s/%s", yesBefore, noBefore, yesAfter, noAfter)
	}
}

func TestConstantProductNeverDecreases(t *testing.T) {
	f := newFixture(t, defaultConfig(), lp1, lp2, trader)
	f.seedAndStartTrading(t)
	ctx := context.Background()

	k := func() *big.Int {
		yes, no := f.market.Reserves()
		return new(big.Int).Mul(yes, no)
	}

	prev := k()
	buys := []struct {
		outcome domain.Outcome
		amount  int64
	}{
		{domain.OutcomeYes, 1_000},
		{domain.OutcomeNo, 2_500},
		{domain.OutcomeYes, 50},
		{domain.OutcomeNo, 10_000},
	}
	for _, b := range buys {
		if _, err := f.market.Buy(ctx, trader, b.outcome, big.NewInt(b.amount)); err != nil {
			t.Fatalf("buy %s %d: %v", b.outcome, b.amount, err)
		}
		cur := k()
		if cur.Cmp(prev) <= 0 {
			t.Errorf("k did not grow: %s -> %s", prev, cur)
		}
		prev = cur
	}

	// Sell everything back; k still never decreases.
	yesBal, _ := f.yes.BalanceOf(ctx, trader)
	if _, err := f.market.Sell(ctx, trader, domain.OutcomeYes, yesBal); err != nil {
		t.Fatalf("sell yes: %v", err)
	}
	cur := k()
	if cur.Cmp(prev) < 0 {
		t.Errorf("k decreased on sell: %s -> %s", prev, cur)
	}
}

func TestRoundTripLosesValue(t *testing.T) {
	f := newFixture(t, defaultConfig(), lp1, lp2, trader)
	f.seedAndStartTrading(t)
	ctx := context.Background()

	before, _ := f.collateral.BalanceOf(ctx, trader)

	trade, err := f.market.Buy(ctx, trader, domain.OutcomeYes, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := f.market.Sell(ctx, trader, domain.OutcomeYes, trade.AmountOut); err != nil {
		t.Fatalf("sell: %v", err)
	}

	after, _ := f.collateral.BalanceOf(ctx, trader)
	if after.Cmp(before) >= 0 {
		t.Errorf("round trip did not lose value: %s -> %s", before, after)
	}
}

func TestSellWithoutShares(t *testing.T) {
	f := newFixture(t, defaultConfig(), lp1, lp2, trader)
	f.seedAndStartTrading(t)

	_, err := f.market.Sell(context.Background(), trader, domain.OutcomeYes, big.NewInt(100))
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("sell without shares: %v, want %v", err, domain.ErrTransferFailed)
	}
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t, defaultConfig(), lp1, lp2)
	ctx := context.Background()

	if err := f.market.Seed(ctx, lp1, big.NewInt(10_000)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := f.market.Seed(ctx, lp2, big.NewInt(5_000)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.clock.Advance(time.Hour)
	if err := f.market.StartVoting(); err != nil {
		t.Fatalf("start voting: %v", err)
	}
	if err := f.market.ProposeCriteria(lp1, "A"); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := f.market.VoteOnCriteria(lp1, "A"); err != nil {
		t.Fatalf("vote: %v", err)
	}

	restored, err := engine.Restore(
		f.market.Snapshot(),
		f.market.Contributions(),
		f.market.Proposals(),
		[]domain.Vote{{MarketID: "mkt-1", Voter: lp1, Ordinal: 0, Weight: big.NewInt(10_000)}},
		f.collateral, f.yes, f.no,
		engine.WithClock(f.clock.Now),
	)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	if restored.Phase() != domain.PhaseVoting {
		t.Fatalf("restored phase = %s, want voting", restored.Phase())
	}
	// The vote record survives the restart.
	if err := restored.VoteOnCriteria(lp1, "A"); !errors.Is(err, domain.ErrAlreadyVoted) {
		t.Errorf("restored repeat vote: %v, want %v", err, domain.ErrAlreadyVoted)
	}
	if err := restored.VoteOnCriteria(lp2, "A"); err != nil {
		t.Fatalf("restored lp2 vote: %v", err)
	}

	f.clock.Advance(time.Hour)
	if err := restored.StartTrading(ctx); err != nil {
		t.Fatalf("restored start trading: %v", err)
	}
	if got := restored.ResolutionCriteria(); got != "A" {
		t.Errorf("restored criteria = %q, want A", got)
	}
	yes, no := restored.Reserves()
	if yes.Int64() != 15_000 || no.Int64() != 15_000 {
		t.Errorf("restored reserves = %s/%s, want 15000/15000", yes, no)
	}
}

func TestRestoreRejectsInconsistentLedger(t *testing.T) {
	f := newFixture(t, defaultConfig(), lp1)
	ctx := context.Background()
	if err := f.market.Seed(ctx, lp1, big.NewInt(10_000)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	snap := f.market.Snapshot()
	// Drop a contribution so the sum no longer matches the total.
	_, err := engine.Restore(snap, nil, nil, nil, f.collateral, f.yes, f.no)
	if err == nil {
		t.Fatal("restore accepted mismatched contribution sum")
	}
}
