package s3blob

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hephyrius/selfmarket/internal/domain"
)

func TestMarshalArchiveJSONL(t *testing.T) {
	lp := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	endedAt := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	record := marketArchive{
		Market: domain.Market{
			ID:       "mkt-1",
			Question: "Will it rain tomorrow?",
			Phase:    domain.PhaseEnded,
			EndedAt:  &endedAt,
		},
		Contributions: []domain.Contribution{
			{MarketID: "mkt-1", Address: lp, Amount: big.NewInt(2_000_000)},
		},
		Proposals: []domain.CriteriaProposal{
			{MarketID: "mkt-1", Ordinal: 0, Text: "Resolves YES if it rains.", Proposer: lp, Weight: big.NewInt(2_000_000)},
		},
		Votes: []domain.Vote{
			{MarketID: "mkt-1", Voter: lp, Ordinal: 0, Weight: big.NewInt(2_000_000)},
		},
		Trades: []domain.Trade{
			{ID: 1, MarketID: "mkt-1", Trader: lp, Side: domain.TradeSideBuy, Outcome: domain.OutcomeYes, AmountIn: big.NewInt(1000), AmountOut: big.NewInt(980), Fee: big.NewInt(3)},
			{ID: 2, MarketID: "mkt-1", Trader: lp, Side: domain.TradeSideSell, Outcome: domain.OutcomeYes, AmountIn: big.NewInt(500), AmountOut: big.NewInt(490), Fee: big.NewInt(2)},
		},
		ArchivedAt: time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
	}

	buf, err := marshalArchive(record)
	if err != nil {
		t.Fatalf("marshalArchive: %v", err)
	}
	if !bytes.HasSuffix(buf, []byte("\n")) {
		t.Error("document does not end with a newline")
	}

	lines := strings.Split(strings.TrimRight(string(buf), "\n"), "\n")
	wantKinds := []string{"market", "contribution", "proposal", "vote", "trade", "trade"}
	if len(lines) != len(wantKinds) {
		t.Fatalf("line count = %d, want %d", len(lines), len(wantKinds))
	}

	for i, line := range lines {
		var got archiveLine
		if err := json.Unmarshal([]byte(line), &got); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		if got.Kind != wantKinds[i] {
			t.Errorf("line %d kind = %q, want %q", i, got.Kind, wantKinds[i])
		}
	}

	var header archiveLine
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		t.Fatalf("header: %v", err)
	}
	if header.Market == nil || header.Market.ID != "mkt-1" {
		t.Errorf("header market = %+v, want mkt-1 snapshot", header.Market)
	}
	if header.ArchivedAt == nil || !header.ArchivedAt.Equal(record.ArchivedAt) {
		t.Errorf("header archived_at = %v, want %v", header.ArchivedAt, record.ArchivedAt)
	}
}

func TestArchivePath(t *testing.T) {
	endedAt := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	m := domain.Market{ID: "mkt-1", UpdatedAt: endedAt.Add(time.Hour), EndedAt: &endedAt}

	if got, want := archivePath(m), "archive/markets/2026-03/mkt-1.jsonl"; got != want {
		t.Errorf("archivePath = %q, want %q", got, want)
	}

	// Markets without a recorded end time partition by their last update.
	m.EndedAt = nil
	m.UpdatedAt = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if got, want := archivePath(m), "archive/markets/2026-04/mkt-1.jsonl"; got != want {
		t.Errorf("archivePath = %q, want %q", got, want)
	}
}
