package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hephyrius/selfmarket/internal/domain"
	"github.com/hephyrius/selfmarket/internal/server/middleware"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	CreateMarket(ctx context.Context, question string) (domain.Market, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, phase domain.Phase) ([]domain.Market, error)
	Seed(ctx context.Context, id string, from common.Address, amount *big.Int) (domain.Market, error)
	ProposeCriteria(ctx context.Context, id string, from common.Address, text string) (domain.Market, error)
	VoteOnCriteria(ctx context.Context, id string, from common.Address, text string) (domain.Market, error)
	StartVoting(ctx context.Context, id string) (domain.Market, error)
	StartTrading(ctx context.Context, id string) (domain.Market, error)
	End(ctx context.Context, id string) (domain.Market, error)
	Contributions(ctx context.Context, id string) ([]domain.Contribution, error)
	Criteria(ctx context.Context, id string) ([]domain.CriteriaProposal, error)
}

// ArchiveSource serves cold-storage records of archived markets.
type ArchiveSource interface {
	OpenArchive(ctx context.Context, id string) (io.ReadCloser, error)
}

// MarketHandler serves market lifecycle HTTP endpoints.
type MarketHandler struct {
	markets  MarketService
	archives ArchiveSource // nil when no object storage is wired
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
// archives may be nil; the archive endpoint then reports not found.
func NewMarketHandler(markets MarketService, archives ArchiveSource, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets:  markets,
		archives: archives,
		logger:   logger,
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int             `json:"total"`
}

// createMarketRequest is the body for market creation.
type createMarketRequest struct {
	Question string `json:"question"`
}

// seedRequest is the body for an LP contribution.
type seedRequest struct {
	Amount string `json:"amount"` // decimal collateral amount
}

// criteriaRequest is the body for proposing or voting on resolution criteria.
type criteriaRequest struct {
	Text string `json:"text"`
}

// CreateMarket opens a new market in the seeding phase.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "missing question")
		return
	}

	market, err := h.markets.CreateMarket(r.Context(), question)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create market failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create market")
		return
	}

	writeJSON(w, http.StatusCreated, market)
}

// ListMarkets returns live markets, optionally filtered by phase.
// GET /api/markets?phase=trading
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	phase := domain.Phase(r.URL.Query().Get("phase"))
	if phase != "" && !phase.Valid() {
		writeError(w, http.StatusBadRequest, "unknown phase")
		return
	}

	markets, err := h.markets.ListMarkets(r.Context(), phase)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   len(markets),
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get market failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// listContributionsResponse wraps the contribution ledger output.
type listContributionsResponse struct {
	Contributions []domain.Contribution `json:"contributions"`
	Total         int                   `json:"total"`
}

// listCriteriaResponse wraps the criteria proposal output.
type listCriteriaResponse struct {
	Criteria []domain.CriteriaProposal `json:"criteria"`
	Total    int                       `json:"total"`
}

// ListContributions returns the LP contribution ledger for a market.
// GET /api/markets/{id}/contributions
func (h *MarketHandler) ListContributions(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	contributions, err := h.markets.Contributions(r.Context(), id)
	if err != nil {
		h.respondMarketError(w, r, "contributions", id, err)
		return
	}

	writeJSON(w, http.StatusOK, listContributionsResponse{
		Contributions: contributions,
		Total:         len(contributions),
	})
}

// ListCriteria returns the proposed resolution criteria for a market.
// GET /api/markets/{id}/criteria
func (h *MarketHandler) ListCriteria(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	criteria, err := h.markets.Criteria(r.Context(), id)
	if err != nil {
		h.respondMarketError(w, r, "criteria", id, err)
		return
	}

	writeJSON(w, http.StatusOK, listCriteriaResponse{
		Criteria: criteria,
		Total:    len(criteria),
	})
}

// GetArchive streams the cold-storage JSONL record of an archived market.
// GET /api/markets/{id}/archive
func (h *MarketHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}
	if h.archives == nil {
		writeError(w, http.StatusNotFound, "archive storage not configured")
		return
	}

	rc, err := h.archives.OpenArchive(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: open archive failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// Seed records an LP collateral contribution from the authenticated trader.
// POST /api/markets/{id}/seed
func (h *MarketHandler) Seed(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	trader, ok := middleware.TraderFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing trader identity")
		return
	}

	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	market, err := h.markets.Seed(r.Context(), id, trader, amount)
	if err != nil {
		h.respondMarketError(w, r, "seed", id, err)
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// ProposeCriteria records a resolution criteria proposal from an LP.
// POST /api/markets/{id}/propose
func (h *MarketHandler) ProposeCriteria(w http.ResponseWriter, r *http.Request) {
	h.criteriaOp(w, r, "propose", h.markets.ProposeCriteria)
}

// VoteOnCriteria records an LP's vote for a proposed criteria.
// POST /api/markets/{id}/vote
func (h *MarketHandler) VoteOnCriteria(w http.ResponseWriter, r *http.Request) {
	h.criteriaOp(w, r, "vote", h.markets.VoteOnCriteria)
}

// criteriaOp is the shared body of the propose and vote endpoints.
func (h *MarketHandler) criteriaOp(
	w http.ResponseWriter,
	r *http.Request,
	name string,
	op func(ctx context.Context, id string, from common.Address, text string) (domain.Market, error),
) {
	id := pathParam(r, "id")
	trader, ok := middleware.TraderFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing trader identity")
		return
	}

	var req criteriaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "missing criteria text")
		return
	}

	market, err := op(r.Context(), id, trader, text)
	if err != nil {
		h.respondMarketError(w, r, name, id, err)
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// StartVoting forces the seeding -> voting transition.
// POST /api/markets/{id}/start-voting
func (h *MarketHandler) StartVoting(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "start-voting", h.markets.StartVoting)
}

// StartTrading forces the voting -> trading transition.
// POST /api/markets/{id}/start-trading
func (h *MarketHandler) StartTrading(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "start-trading", h.markets.StartTrading)
}

// End closes a trading market.
// POST /api/markets/{id}/end
func (h *MarketHandler) End(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "end", h.markets.End)
}

// transition is the shared body of the operator phase-transition endpoints.
func (h *MarketHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	name string,
	op func(ctx context.Context, id string) (domain.Market, error),
) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := op(r.Context(), id)
	if err != nil {
		h.respondMarketError(w, r, name, id, err)
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// respondMarketError maps domain errors to HTTP statuses and logs the rest.
func (h *MarketHandler) respondMarketError(w http.ResponseWriter, r *http.Request, op, id string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "market not found")
	case errors.Is(err, domain.ErrWrongPhase),
		errors.Is(err, domain.ErrPhaseNotReady),
		errors.Is(err, domain.ErrBelowMinimum),
		errors.Is(err, domain.ErrNotAnLP),
		errors.Is(err, domain.ErrDuplicateCriteria),
		errors.Is(err, domain.ErrInvalidCriteria),
		errors.Is(err, domain.ErrAlreadyVoted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientAllowance),
		errors.Is(err, domain.ErrTransferFailed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusServiceUnavailable, "market busy, retry")
	default:
		h.logger.ErrorContext(r.Context(), "handler: market operation failed",
			slog.String("op", op),
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "operation failed")
	}
}
