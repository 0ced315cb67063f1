// Package service orchestrates the market engine against the persistence,
// cache, and messaging layers. Handlers and background workers call into
// services; services own the write path.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hephyrius/selfmarket/internal/domain"
	"github.com/hephyrius/selfmarket/internal/engine"
	"github.com/hephyrius/selfmarket/internal/notify"
	"github.com/hephyrius/selfmarket/internal/registry"
)

// lockTTL bounds how long a per-market write lock may be held.
const lockTTL = 10 * time.Second

// MarketService owns the market lifecycle: creation, seeding, the criteria
// round, phase transitions, and rehydration from the store on boot.
type MarketService struct {
	registry      *registry.Registry
	markets       domain.MarketStore
	contributions domain.ContributionStore
	votes         domain.VoteStore
	cache         domain.MarketCache
	bus           domain.SignalBus
	locks         domain.LockManager
	audit         domain.AuditStore
	notifier      *notify.Notifier
	defaults      domain.MarketConfig
	logger        *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	reg *registry.Registry,
	markets domain.MarketStore,
	contributions domain.ContributionStore,
	votes domain.VoteStore,
	cache domain.MarketCache,
	bus domain.SignalBus,
	locks domain.LockManager,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	defaults domain.MarketConfig,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		registry:      reg,
		markets:       markets,
		contributions: contributions,
		votes:         votes,
		cache:         cache,
		bus:           bus,
		locks:         locks,
		audit:         audit,
		notifier:      notifier,
		defaults:      defaults,
		logger:        logger.With(slog.String("component", "market_service")),
	}
}

// Rehydrate loads every non-archived market from the store and registers it
// with the in-memory registry. Call once on boot, before serving requests.
func (s *MarketService) Rehydrate(ctx context.Context) error {
	markets, err := s.markets.List(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("market_service: rehydrate list: %w", err)
	}

	var restored int
	for _, snap := range markets {
		if snap.Archived {
			continue
		}
		contributions, err := s.contributions.ListByMarket(ctx, snap.ID)
		if err != nil {
			return fmt.Errorf("market_service: rehydrate %s contributions: %w", snap.ID, err)
		}
		proposals, err := s.votes.ListProposals(ctx, snap.ID)
		if err != nil {
			return fmt.Errorf("market_service: rehydrate %s proposals: %w", snap.ID, err)
		}
		votes, err := s.votes.ListVotes(ctx, snap.ID)
		if err != nil {
			return fmt.Errorf("market_service: rehydrate %s votes: %w", snap.ID, err)
		}

		if _, err := s.registry.Restore(snap, contributions, proposals, votes); err != nil {
			return fmt.Errorf("market_service: rehydrate %s: %w", snap.ID, err)
		}
		restored++
	}

	s.logger.InfoContext(ctx, "rehydrated markets", slog.Int("count", restored))
	return nil
}

// CreateMarket creates a new market in the seeding phase with the service's
// default parameters and persists its initial snapshot.
func (s *MarketService) CreateMarket(ctx context.Context, question string) (domain.Market, error) {
	m, err := s.registry.Create(question, s.defaults)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	snap := m.Snapshot()
	if err := s.markets.Upsert(ctx, snap); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: persist new market %s: %w", snap.ID, err)
	}

	s.auditLog(ctx, "market.created", map[string]any{
		"market_id": snap.ID,
		"question":  question,
	})
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, notify.EventPhase, "Market created", snap.ID+": "+question); err != nil {
			s.logger.WarnContext(ctx, "notify failed",
				slog.String("market_id", snap.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return snap, nil
}

// Contributions returns the LP ledger for a market. Live markets are read
// from the registry; archived ones fall back to the persistent store.
func (s *MarketService) Contributions(ctx context.Context, id string) ([]domain.Contribution, error) {
	if m, err := s.registry.Get(id); err == nil {
		return m.Contributions(), nil
	}
	if _, err := s.markets.GetByID(ctx, id); err != nil {
		return nil, fmt.Errorf("market_service: contributions %q: %w", id, err)
	}
	out, err := s.contributions.ListByMarket(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("market_service: contributions %q: %w", id, err)
	}
	return out, nil
}

// Criteria returns the proposed resolution criteria with their accumulated
// vote weights, in proposal order.
func (s *MarketService) Criteria(ctx context.Context, id string) ([]domain.CriteriaProposal, error) {
	if m, err := s.registry.Get(id); err == nil {
		return m.Proposals(), nil
	}
	if _, err := s.markets.GetByID(ctx, id); err != nil {
		return nil, fmt.Errorf("market_service: criteria %q: %w", id, err)
	}
	out, err := s.votes.ListProposals(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("market_service: criteria %q: %w", id, err)
	}
	return out, nil
}

// GetMarket returns the live snapshot for a market. Markets the registry
// does not hold (archived ones) are read cache-first, falling back to the
// persistent store and backfilling the cache on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if m, err := s.registry.Get(id); err == nil {
		return m.Snapshot(), nil
	}

	if snap, err := s.cache.Get(ctx, id); err == nil {
		return snap, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "cache get failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}

	snap, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %q: %w", id, err)
	}
	if err := s.cache.Set(ctx, snap); err != nil {
		s.logger.WarnContext(ctx, "cache backfill failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}
	return snap, nil
}

// MarketByToken resolves a YES or NO share token address to its market,
// preferring the cache's reverse index and falling back to a registry scan.
func (s *MarketService) MarketByToken(ctx context.Context, token common.Address) (domain.Market, error) {
	if snap, err := s.cache.GetByToken(ctx, token.Hex()); err == nil {
		return snap, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "cache token lookup failed",
			slog.String("token", token.Hex()),
			slog.String("error", err.Error()),
		)
	}

	for _, m := range s.registry.List() {
		snap := m.Snapshot()
		if snap.YesToken == token || snap.NoToken == token {
			if err := s.cache.Set(ctx, snap); err != nil {
				s.logger.WarnContext(ctx, "cache backfill failed",
					slog.String("market_id", snap.ID),
					slog.String("error", err.Error()),
				)
			}
			return snap, nil
		}
	}
	return domain.Market{}, fmt.Errorf("market_service: token %s: %w", token.Hex(), domain.ErrNotFound)
}

// ShareBalances returns the caller's YES and NO share balances in a market.
func (s *MarketService) ShareBalances(ctx context.Context, id string, addr common.Address) (yes, no *big.Int, err error) {
	m, err := s.registry.Get(id)
	if err != nil {
		return nil, nil, fmt.Errorf("market_service: share balances %q: %w", id, err)
	}
	yes, err = m.YesToken().BalanceOf(ctx, addr)
	if err != nil {
		return nil, nil, fmt.Errorf("market_service: yes balance %q: %w", id, err)
	}
	no, err = m.NoToken().BalanceOf(ctx, addr)
	if err != nil {
		return nil, nil, fmt.Errorf("market_service: no balance %q: %w", id, err)
	}
	return yes, no, nil
}

// ListMarkets returns snapshots of every live market in creation order.
func (s *MarketService) ListMarkets(ctx context.Context, phase domain.Phase) ([]domain.Market, error) {
	_ = ctx
	live := s.registry.List()
	out := make([]domain.Market, 0, len(live))
	for _, m := range live {
		snap := m.Snapshot()
		if phase != "" && snap.Phase != phase {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// Seed records an LP contribution during the seeding phase.
func (s *MarketService) Seed(ctx context.Context, id string, from common.Address, amount *big.Int) (domain.Market, error) {
	m, unlock, err := s.acquire(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}
	defer unlock()

	if err := m.Seed(ctx, from, amount); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: seed %s: %w", id, err)
	}

	snap := m.Snapshot()
	if err := s.persistSnapshot(ctx, snap); err != nil {
		return domain.Market{}, err
	}
	if err := s.contributions.Upsert(ctx, domain.Contribution{
		MarketID: id,
		Address:  from,
		Amount:   m.Contribution(from),
	}); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: persist contribution %s: %w", id, err)
	}

	s.auditLog(ctx, "market.seeded", map[string]any{
		"market_id": id,
		"address":   from.Hex(),
		"amount":    amount.String(),
	})

	return snap, nil
}

// ProposeCriteria records a resolution criteria proposal from an LP.
func (s *MarketService) ProposeCriteria(ctx context.Context, id string, from common.Address, text string) (domain.Market, error) {
	m, unlock, err := s.acquire(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}
	defer unlock()

	if err := m.ProposeCriteria(from, text); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: propose %s: %w", id, err)
	}

	if err := s.persistProposals(ctx, m); err != nil {
		return domain.Market{}, err
	}

	return m.Snapshot(), nil
}

// VoteOnCriteria casts an LP's vote for a previously proposed criteria.
func (s *MarketService) VoteOnCriteria(ctx context.Context, id string, from common.Address, text string) (domain.Market, error) {
	m, unlock, err := s.acquire(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}
	defer unlock()

	if err := m.VoteOnCriteria(from, text); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: vote %s: %w", id, err)
	}

	if err := s.persistProposals(ctx, m); err != nil {
		return domain.Market{}, err
	}

	ordinal := -1
	for _, p := range m.Proposals() {
		if p.Text == text {
			ordinal = p.Ordinal
			break
		}
	}
	if err := s.votes.InsertVote(ctx, domain.Vote{
		MarketID: id,
		Voter:    from,
		Ordinal:  ordinal,
		Weight:   m.Contribution(from),
		CastAt:   time.Now().UTC(),
	}); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: persist vote %s: %w", id, err)
	}

	return m.Snapshot(), nil
}

// StartVoting advances a market from seeding to voting once the seeding
// deadline has passed.
func (s *MarketService) StartVoting(ctx context.Context, id string) (domain.Market, error) {
	return s.transition(ctx, id, domain.PhaseVoting, func(m *engine.Market) error {
		return m.StartVoting()
	})
}

// StartTrading advances a market from voting to trading: the winning
// criteria locks, the outcome tokens are minted, and the pool opens.
func (s *MarketService) StartTrading(ctx context.Context, id string) (domain.Market, error) {
	snap, err := s.transition(ctx, id, domain.PhaseTrading, func(m *engine.Market) error {
		return m.StartTrading(ctx)
	})
	if err != nil {
		return domain.Market{}, err
	}

	// The criteria round is settled; persist final proposal weights.
	if m, regErr := s.registry.Get(id); regErr == nil {
		if err := s.persistProposals(ctx, m); err != nil {
			return domain.Market{}, err
		}
	}
	return snap, nil
}

// End closes a market permanently.
func (s *MarketService) End(ctx context.Context, id string) (domain.Market, error) {
	return s.transition(ctx, id, domain.PhaseEnded, func(m *engine.Market) error {
		return m.End()
	})
}

// AdvanceDue walks every live market and performs any phase transition whose
// deadline has passed. It returns the number of transitions made and is the
// keeper loop's entry point.
func (s *MarketService) AdvanceDue(ctx context.Context) (int, error) {
	var advanced int
	for _, m := range s.registry.List() {
		var err error
		switch m.Phase() {
		case domain.PhaseSeeding:
			_, err = s.StartVoting(ctx, m.ID())
		case domain.PhaseVoting:
			_, err = s.StartTrading(ctx, m.ID())
		default:
			continue
		}

		switch {
		case err == nil:
			advanced++
		case errors.Is(err, domain.ErrPhaseNotReady), errors.Is(err, domain.ErrLockHeld):
			// Not due yet, or another instance is on it.
		default:
			return advanced, err
		}
	}
	return advanced, nil
}

// transition runs a phase transition under the per-market lock, persists the
// result, and fans the event out to the bus and notifier.
func (s *MarketService) transition(ctx context.Context, id string, to domain.Phase, op func(*engine.Market) error) (domain.Market, error) {
	m, unlock, err := s.acquire(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}
	defer unlock()

	from := m.Phase()
	if err := op(m); err != nil {
		return domain.Market{}, fmt.Errorf("market_service: %s -> %s %s: %w", from, to, id, err)
	}

	snap := m.Snapshot()
	if err := s.persistSnapshot(ctx, snap); err != nil {
		return domain.Market{}, err
	}

	s.publishPhase(ctx, domain.PhaseEvent{
		MarketID: id,
		From:     from,
		To:       snap.Phase,
		Criteria: snap.ResolutionCriteria,
		At:       time.Now().UTC(),
	})
	if s.notifier != nil {
		if err := s.notifier.NotifyPhase(ctx, id, snap.Question, string(snap.Phase)); err != nil {
			s.logger.WarnContext(ctx, "phase notification failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	s.auditLog(ctx, "market.phase", map[string]any{
		"market_id": id,
		"from":      string(from),
		"to":        string(snap.Phase),
	})

	s.logger.InfoContext(ctx, "phase transition",
		slog.String("market_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(snap.Phase)),
	)
	return snap, nil
}

// acquire resolves a live market and takes its distributed write lock.
func (s *MarketService) acquire(ctx context.Context, id string) (*engine.Market, func(), error) {
	m, err := s.registry.Get(id)
	if err != nil {
		return nil, nil, fmt.Errorf("market_service: %w", err)
	}
	unlock, err := s.locks.Acquire(ctx, "market:"+id, lockTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("market_service: lock %s: %w", id, err)
	}
	return m, unlock, nil
}

// persistSnapshot writes the snapshot through to the store and refreshes the
// cache. Cache failures are logged, not returned.
func (s *MarketService) persistSnapshot(ctx context.Context, snap domain.Market) error {
	if err := s.markets.Upsert(ctx, snap); err != nil {
		return fmt.Errorf("market_service: persist %s: %w", snap.ID, err)
	}
	if err := s.cache.Set(ctx, snap); err != nil {
		s.logger.WarnContext(ctx, "cache set failed",
			slog.String("market_id", snap.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (s *MarketService) persistProposals(ctx context.Context, m *engine.Market) error {
	for _, p := range m.Proposals() {
		if err := s.votes.UpsertProposal(ctx, p); err != nil {
			return fmt.Errorf("market_service: persist proposal %s/%d: %w", p.MarketID, p.Ordinal, err)
		}
	}
	return nil
}

func (s *MarketService) publishPhase(ctx context.Context, evt domain.PhaseEvent) {
	payload, _ := json.Marshal(evt)
	if err := s.bus.Publish(ctx, domain.ChannelPhase, payload); err != nil {
		s.logger.WarnContext(ctx, "phase publish failed",
			slog.String("market_id", evt.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
