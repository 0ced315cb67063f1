package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market snapshots.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	ListByPhase(ctx context.Context, phase Phase, opts ListOpts) ([]Market, error)
	MarkArchived(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

// ContributionStore persists per-LP contribution ledgers.
type ContributionStore interface {
	Upsert(ctx context.Context, c Contribution) error
	ListByMarket(ctx context.Context, marketID string) ([]Contribution, error)
	Get(ctx context.Context, marketID string, addr common.Address) (Contribution, error)
}

// VoteStore persists criteria proposals and cast votes.
type VoteStore interface {
	UpsertProposal(ctx context.Context, p CriteriaProposal) error
	ListProposals(ctx context.Context, marketID string) ([]CriteriaProposal, error)
	InsertVote(ctx context.Context, v Vote) error
	ListVotes(ctx context.Context, marketID string) ([]Vote, error)
}

// TradeStore persists executed pool trades.
type TradeStore interface {
	Insert(ctx context.Context, trade Trade) (int64, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Trade, error)
	CountByMarket(ctx context.Context, marketID string) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
