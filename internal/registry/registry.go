// Package registry is the market factory. It binds each new market to the
// shared collateral asset, deploys its pair of YES/NO share tokens, and
// tracks every created market for lookup. No market business logic lives
// here.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/hephyrius/selfmarket/internal/domain"
	"github.com/hephyrius/selfmarket/internal/engine"
)

// ShareTokenFactory deploys a share token with the given identity and sole
// minter. Local mode backs this with the in-process token ledger.
type ShareTokenFactory func(name, symbol string, decimals uint8, addr, minter common.Address) domain.ShareToken

// Registry creates and indexes markets. All methods are safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	collateral domain.CollateralAsset
	collAddr   common.Address
	newShare   ShareTokenFactory
	markets    map[string]*engine.Market
	order      []string // creation order, for listing
	logger     *slog.Logger
	clock      func() time.Time
}

// New creates a Registry bound to one collateral asset.
func New(collateral domain.CollateralAsset, collAddr common.Address, newShare ShareTokenFactory, logger *slog.Logger) *Registry {
	return &Registry{
		collateral: collateral,
		collAddr:   collAddr,
		newShare:   newShare,
		markets:    make(map[string]*engine.Market),
		logger:     logger.With(slog.String("component", "registry")),
		clock:      time.Now,
	}
}

// SetClock overrides the clock handed to newly created markets.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = now
}

// Create instantiates a market for the given question with its own account
// address and freshly deployed YES/NO share tokens.
func (r *Registry) Create(question string, cfg domain.MarketConfig) (*engine.Market, error) {
	if question == "" {
		return nil, fmt.Errorf("registry: empty question")
	}

	id := uuid.New().String()
	account := deriveAddress("market", id)
	yes := r.newShare("Yes Share "+id, "YES", r.collateral.Decimals(), deriveAddress("yes", id), account)
	no := r.newShare("No Share "+id, "NO", r.collateral.Decimals(), deriveAddress("no", id), account)

	r.mu.Lock()
	defer r.mu.Unlock()

	m := engine.New(id, question, r.collateral, r.collAddr, account, yes, no, cfg, engine.WithClock(r.clock))
	r.markets[id] = m
	r.order = append(r.order, id)

	r.logger.Info("market created",
		slog.String("market_id", id),
		slog.String("question", question),
		slog.String("account", account.Hex()),
	)
	return m, nil
}

// Restore rebuilds a persisted market and registers it. The share tokens are
// redeployed at their original addresses with the market account as minter;
// only the pool-level state survives a restart, individual share balances
// live in the token ledger and start empty.
func (r *Registry) Restore(
	snap domain.Market,
	contributions []domain.Contribution,
	proposals []domain.CriteriaProposal,
	votes []domain.Vote,
) (*engine.Market, error) {
	r.mu.Lock()
	clock := r.clock
	r.mu.Unlock()

	yes := r.newShare("Yes Share "+snap.ID, "YES", r.collateral.Decimals(), snap.YesToken, snap.Account)
	no := r.newShare("No Share "+snap.ID, "NO", r.collateral.Decimals(), snap.NoToken, snap.Account)

	m, err := engine.Restore(snap, contributions, proposals, votes, r.collateral, yes, no, engine.WithClock(clock))
	if err != nil {
		return nil, err
	}
	if err := r.Add(m); err != nil {
		return nil, err
	}

	r.logger.Info("market restored",
		slog.String("market_id", snap.ID),
		slog.String("phase", string(snap.Phase)),
	)
	return m, nil
}

// Add registers an already-built market, e.g. one rehydrated from the
// store on boot. It rejects duplicate IDs.
func (r *Registry) Add(m *engine.Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.markets[m.ID()]; ok {
		return fmt.Errorf("registry: market %s: %w", m.ID(), domain.ErrAlreadyExists)
	}
	r.markets[m.ID()] = m
	r.order = append(r.order, m.ID())
	return nil
}

// Get returns the market with the given ID.
func (r *Registry) Get(id string) (*engine.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	if !ok {
		return nil, fmt.Errorf("registry: market %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// List returns all markets in creation order.
func (r *Registry) List() []*engine.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*engine.Market, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.markets[id])
	}
	return out
}

// Len returns the number of registered markets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}

// deriveAddress produces a deterministic account address for a market or
// one of its tokens from the market ID.
func deriveAddress(kind, id string) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256([]byte(kind + ":" + id))[12:])
}
