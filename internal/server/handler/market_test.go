package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hephyrius/selfmarket/internal/crypto"
	"github.com/hephyrius/selfmarket/internal/domain"
	"github.com/hephyrius/selfmarket/internal/server/middleware"
)

// Well-known hardhat development key.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// stubMarketService records calls and returns canned snapshots.
type stubMarketService struct {
	market        domain.Market
	contributions []domain.Contribution
	criteria      []domain.CriteriaProposal
	err           error
	seedFrom      common.Address
	seedAmount    *big.Int
}

func (s *stubMarketService) CreateMarket(ctx context.Context, question string) (domain.Market, error) {
	m := s.market
	m.Question = question
	return m, s.err
}

func (s *stubMarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if id != s.market.ID {
		return domain.Market{}, domain.ErrNotFound
	}
	return s.market, s.err
}

func (s *stubMarketService) ListMarkets(ctx context.Context, phase domain.Phase) ([]domain.Market, error) {
	if phase != "" && phase != s.market.Phase {
		return nil, nil
	}
	return []domain.Market{s.market}, s.err
}

func (s *stubMarketService) Seed(ctx context.Context, id string, from common.Address, amount *big.Int) (domain.Market, error) {
	s.seedFrom = from
	s.seedAmount = amount
	return s.market, s.err
}

func (s *stubMarketService) ProposeCriteria(ctx context.Context, id string, from common.Address, text string) (domain.Market, error) {
	return s.market, s.err
}

func (s *stubMarketService) VoteOnCriteria(ctx context.Context, id string, from common.Address, text string) (domain.Market, error) {
	return s.market, s.err
}

func (s *stubMarketService) StartVoting(ctx context.Context, id string) (domain.Market, error) {
	return s.market, s.err
}

func (s *stubMarketService) StartTrading(ctx context.Context, id string) (domain.Market, error) {
	return s.market, s.err
}

func (s *stubMarketService) End(ctx context.Context, id string) (domain.Market, error) {
	return s.market, s.err
}

func (s *stubMarketService) Contributions(ctx context.Context, id string) ([]domain.Contribution, error) {
	if id != s.market.ID {
		return nil, domain.ErrNotFound
	}
	return s.contributions, s.err
}

func (s *stubMarketService) Criteria(ctx context.Context, id string) ([]domain.CriteriaProposal, error) {
	if id != s.market.ID {
		return nil, domain.ErrNotFound
	}
	return s.criteria, s.err
}

func testMarket() domain.Market {
	return domain.Market{
		ID:                   "mkt-1",
		Question:             "Will it rain tomorrow?",
		Phase:                domain.PhaseSeeding,
		MinSeedAmount:        big.NewInt(1_000_000),
		TotalLPContributions: big.NewInt(0),
		CreatedAt:            time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testMux(svc MarketService) *http.ServeMux {
	return testMuxWithArchives(svc, nil)
}

func testMuxWithArchives(svc MarketService, archives ArchiveSource) *http.ServeMux {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewMarketHandler(svc, archives, logger)
	trader := middleware.TraderAuth()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets", h.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", h.GetMarket)
	mux.HandleFunc("POST /api/markets", h.CreateMarket)
	mux.Handle("POST /api/markets/{id}/seed", trader(http.HandlerFunc(h.Seed)))
	mux.HandleFunc("GET /api/markets/{id}/contributions", h.ListContributions)
	mux.HandleFunc("GET /api/markets/{id}/criteria", h.ListCriteria)
	mux.HandleFunc("GET /api/markets/{id}/archive", h.GetArchive)
	return mux
}

func TestGetMarket(t *testing.T) {
	svc := &stubMarketService{market: testMarket()}
	mux := testMux(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/mkt-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	var got domain.Market
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "mkt-1" || got.Question != "Will it rain tomorrow?" {
		t.Errorf("unexpected market: %+v", got)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing market status = %d, want 404", rec.Code)
	}
}

func TestListMarketsPhaseFilter(t *testing.T) {
	svc := &stubMarketService{market: testMarket()}
	mux := testMux(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets?phase=seeding", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp listMarketsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("total = %d, want 1", resp.Total)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets?phase=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus phase status = %d, want 400", rec.Code)
	}
}

func TestCreateMarketValidation(t *testing.T) {
	svc := &stubMarketService{market: testMarket()}
	mux := testMux(svc)

	rec := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"question":"Will ETH close above 5k?"}`)
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets", body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%s)", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets", bytes.NewBufferString(`{"question":"  "}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank question status = %d, want 400", rec.Code)
	}
}

// stubArchiveSource serves a fixed JSONL document for one market ID.
type stubArchiveSource struct {
	id   string
	body string
}

func (s *stubArchiveSource) OpenArchive(ctx context.Context, id string) (io.ReadCloser, error) {
	if id != s.id {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewBufferString(s.body)), nil
}

func TestGetArchive(t *testing.T) {
	body := `{"kind":"market"}` + "\n" + `{"kind":"trade"}` + "\n"
	svc := &stubMarketService{market: testMarket()}
	mux := testMuxWithArchives(svc, &stubArchiveSource{id: "mkt-1", body: body})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/mkt-1/archive", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/x-ndjson" {
		t.Errorf("content type = %q, want application/x-ndjson", got)
	}
	if rec.Body.String() != body {
		t.Errorf("body = %q, want %q", rec.Body.String(), body)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/nope/archive", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing archive status = %d, want 404", rec.Code)
	}

	// Without object storage the endpoint reports not found too.
	rec = httptest.NewRecorder()
	testMux(svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/mkt-1/archive", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("no storage status = %d, want 404", rec.Code)
	}
}

func TestSeedTransferFailureStatus(t *testing.T) {
	svc := &stubMarketService{
		market: testMarket(),
		err: fmt.Errorf("market_service: seed mkt-1: %w",
			fmt.Errorf("engine: seed collateral: %w: %v", domain.ErrTransferFailed, domain.ErrInsufficientAllowance)),
	}
	mux := testMux(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, signedSwap(t, "/api/markets/mkt-1/seed", `{"amount":"5000000"}`))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422 (%s)", rec.Code, rec.Body.String())
	}
}

func TestListContributionsAndCriteria(t *testing.T) {
	lp := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	svc := &stubMarketService{
		market: testMarket(),
		contributions: []domain.Contribution{
			{MarketID: "mkt-1", Address: lp, Amount: big.NewInt(2_000_000)},
		},
		criteria: []domain.CriteriaProposal{
			{MarketID: "mkt-1", Ordinal: 0, Text: "Resolves YES if it rains.", Proposer: lp, Weight: big.NewInt(2_000_000)},
		},
	}
	mux := testMux(svc)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/mkt-1/contributions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("contributions status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	var contribs listContributionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &contribs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if contribs.Total != 1 || len(contribs.Contributions) != 1 {
		t.Errorf("contributions total = %d, want 1", contribs.Total)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/mkt-1/criteria", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("criteria status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	var crit listCriteriaResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &crit); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if crit.Total != 1 || len(crit.Criteria) != 1 {
		t.Errorf("criteria total = %d, want 1", crit.Total)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/nope/criteria", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing market status = %d, want 404", rec.Code)
	}
}

func TestSeedRequiresSignatureAndParsesAmount(t *testing.T) {
	svc := &stubMarketService{market: testMarket()}
	mux := testMux(svc)

	signer, err := crypto.NewSigner(testKeyHex)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	body := `{"amount":"5000000"}`
	sig, err := signer.SignMessage([]byte(body))
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/api/markets/mkt-1/seed", bytes.NewBufferString(body))
	r.Header.Set(middleware.HeaderTraderAddress, signer.Address().Hex())
	r.Header.Set(middleware.HeaderTraderSignature, sig)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	if svc.seedFrom != signer.Address() {
		t.Errorf("seed from = %s, want %s", svc.seedFrom.Hex(), signer.Address().Hex())
	}
	if svc.seedAmount == nil || svc.seedAmount.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Errorf("seed amount = %v, want 5000000", svc.seedAmount)
	}

	// Unsigned requests never reach the handler.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/markets/mkt-1/seed", bytes.NewBufferString(body)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unsigned status = %d, want 401", rec.Code)
	}

	// Negative amounts are rejected before the service is called.
	bad := `{"amount":"-5"}`
	badSig, err := signer.SignMessage([]byte(bad))
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	r = httptest.NewRequest(http.MethodPost, "/api/markets/mkt-1/seed", bytes.NewBufferString(bad))
	r.Header.Set(middleware.HeaderTraderAddress, signer.Address().Hex())
	r.Header.Set(middleware.HeaderTraderSignature, badSig)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative amount status = %d, want 400", rec.Code)
	}
}
