package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hephyrius/selfmarket/internal/domain"
)

// archiveContentType is the MIME type for the JSONL archive documents.
const archiveContentType = "application/x-ndjson"

// marketArchive is the cold-storage record for a single ended market: its
// final snapshot plus the full LP ledger, criteria round, and trade history.
type marketArchive struct {
	Market        domain.Market
	Contributions []domain.Contribution
	Proposals     []domain.CriteriaProposal
	Votes         []domain.Vote
	Trades        []domain.Trade
	ArchivedAt    time.Time
}

// archiveLine is one JSONL line of an archive document. The first line is
// always the market header; every following line holds exactly one ledger
// row of the named kind.
type archiveLine struct {
	Kind         string                   `json:"kind"`
	Market       *domain.Market           `json:"market,omitempty"`
	ArchivedAt   *time.Time               `json:"archived_at,omitempty"`
	Contribution *domain.Contribution     `json:"contribution,omitempty"`
	Proposal     *domain.CriteriaProposal `json:"proposal,omitempty"`
	Vote         *domain.Vote             `json:"vote,omitempty"`
	Trade        *domain.Trade            `json:"trade,omitempty"`
}

// ArchiveImpl implements domain.Archiver by collecting every ended,
// not-yet-archived market from the stores, serializing the full record as
// JSONL, and uploading it to S3. Archived documents are served back through
// OpenArchive.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here -- markets are only flagged as archived so that reads keep
// working while cold copies exist.
type ArchiveImpl struct {
	writer        domain.BlobWriter
	reader        domain.BlobReader
	markets       domain.MarketStore
	contributions domain.ContributionStore
	votes         domain.VoteStore
	trades        domain.TradeStore
	audit         domain.AuditStore
	cache         domain.MarketCache // optional; invalidated after archival
	logger        *slog.Logger
}

// NewArchiver creates a new ArchiveImpl. cache may be nil when no snapshot
// cache is wired.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	markets domain.MarketStore,
	contributions domain.ContributionStore,
	votes domain.VoteStore,
	trades domain.TradeStore,
	audit domain.AuditStore,
	cache domain.MarketCache,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:        writer,
		reader:        reader,
		markets:       markets,
		contributions: contributions,
		votes:         votes,
		trades:        trades,
		audit:         audit,
		cache:         cache,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveEnded uploads a cold-storage record for every ended market that has
// not been archived yet, marks each one as archived, and returns the number
// of markets processed. A failure on one market aborts the run; markets
// already uploaded stay marked so the next run skips them.
func (a *ArchiveImpl) ArchiveEnded(ctx context.Context) (int64, error) {
	ended, err := a.markets.ListByPhase(ctx, domain.PhaseEnded, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ended query: %w", err)
	}

	var count int64
	for _, m := range ended {
		if m.Archived {
			continue
		}
		if err := a.archiveOne(ctx, m); err != nil {
			return count, err
		}
		count++
	}

	if count > 0 {
		if err := a.audit.Log(ctx, "archive.markets", map[string]any{
			"count": count,
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}

	return count, nil
}

func (a *ArchiveImpl) archiveOne(ctx context.Context, m domain.Market) error {
	record := marketArchive{
		Market:     m,
		ArchivedAt: time.Now().UTC(),
	}

	var err error
	if record.Contributions, err = a.contributions.ListByMarket(ctx, m.ID); err != nil {
		return fmt.Errorf("s3blob: archive %s contributions: %w", m.ID, err)
	}
	if record.Proposals, err = a.votes.ListProposals(ctx, m.ID); err != nil {
		return fmt.Errorf("s3blob: archive %s proposals: %w", m.ID, err)
	}
	if record.Votes, err = a.votes.ListVotes(ctx, m.ID); err != nil {
		return fmt.Errorf("s3blob: archive %s votes: %w", m.ID, err)
	}
	if record.Trades, err = a.trades.ListByMarket(ctx, m.ID, domain.ListOpts{}); err != nil {
		return fmt.Errorf("s3blob: archive %s trades: %w", m.ID, err)
	}

	buf, err := marshalArchive(record)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", m.ID, err)
	}

	path := archivePath(m)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), archiveContentType); err != nil {
		return fmt.Errorf("s3blob: archive %s upload: %w", m.ID, err)
	}

	if err := a.markets.MarkArchived(ctx, m.ID); err != nil {
		return fmt.Errorf("s3blob: archive %s mark: %w", m.ID, err)
	}

	// The cached snapshot predates the archived flag; drop it so the next
	// read sees the store's version.
	if a.cache != nil {
		if err := a.cache.Invalidate(ctx, m.ID); err != nil {
			a.logger.WarnContext(ctx, "cache invalidate failed",
				slog.String("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// OpenArchive streams the cold-storage JSONL document of an archived market.
// It returns domain.ErrNotFound for unknown markets and for markets that have
// not been archived yet. The caller closes the returned reader.
func (a *ArchiveImpl) OpenArchive(ctx context.Context, id string) (io.ReadCloser, error) {
	m, err := a.markets.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("s3blob: open archive %s: %w", id, err)
	}
	if !m.Archived {
		return nil, fmt.Errorf("s3blob: open archive %s: not archived: %w", id, domain.ErrNotFound)
	}
	return a.reader.Get(ctx, archivePath(m))
}

// archivePath builds the S3 key for a market's cold-storage record,
// partitioned by the year-month in which the market ended.
//
//	archive/markets/2026-03/{id}.jsonl
func archivePath(m domain.Market) string {
	endedAt := m.UpdatedAt
	if m.EndedAt != nil {
		endedAt = *m.EndedAt
	}
	return fmt.Sprintf("archive/markets/%s/%s.jsonl", endedAt.Format("2006-01"), m.ID)
}

// marshalArchive renders the record as JSONL: a market header line followed
// by one line per contribution, proposal, vote, and trade.
func marshalArchive(record marketArchive) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	lines := make([]archiveLine, 0,
		1+len(record.Contributions)+len(record.Proposals)+len(record.Votes)+len(record.Trades))
	lines = append(lines, archiveLine{
		Kind:       "market",
		Market:     &record.Market,
		ArchivedAt: &record.ArchivedAt,
	})
	for i := range record.Contributions {
		lines = append(lines, archiveLine{Kind: "contribution", Contribution: &record.Contributions[i]})
	}
	for i := range record.Proposals {
		lines = append(lines, archiveLine{Kind: "proposal", Proposal: &record.Proposals[i]})
	}
	for i := range record.Votes {
		lines = append(lines, archiveLine{Kind: "vote", Vote: &record.Votes[i]})
	}
	for i := range record.Trades {
		lines = append(lines, archiveLine{Kind: "trade", Trade: &record.Trades[i]})
	}

	for _, line := range lines {
		if err := enc.Encode(line); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
