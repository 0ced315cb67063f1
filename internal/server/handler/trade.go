package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hephyrius/selfmarket/internal/domain"
	"github.com/hephyrius/selfmarket/internal/server/middleware"
)

// TradeService defines the methods that the trade handler requires from the
// service layer.
type TradeService interface {
	Buy(ctx context.Context, marketID string, trader common.Address, outcome domain.Outcome, amountIn *big.Int) (domain.Trade, error)
	Sell(ctx context.Context, marketID string, trader common.Address, outcome domain.Outcome, sharesIn *big.Int) (domain.Trade, error)
	Prices(ctx context.Context, marketID string) (domain.Prices, error)
	ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error)
}

// TradeHandler serves pool trading HTTP endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logger,
	}
}

// swapRequest is the body for buy and sell orders. Amount is collateral in
// for buys and shares in for sells.
type swapRequest struct {
	Outcome string `json:"outcome"` // "yes" or "no"
	Amount  string `json:"amount"`
}

// listTradesResponse wraps the trade list output with metadata.
type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// Buy swaps collateral for outcome shares.
// POST /api/markets/{id}/buy
func (h *TradeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	h.swap(w, r, "buy", h.trades.Buy)
}

// Sell swaps outcome shares back to collateral.
// POST /api/markets/{id}/sell
func (h *TradeHandler) Sell(w http.ResponseWriter, r *http.Request) {
	h.swap(w, r, "sell", h.trades.Sell)
}

// swap is the shared body of the buy and sell endpoints.
func (h *TradeHandler) swap(
	w http.ResponseWriter,
	r *http.Request,
	name string,
	op func(ctx context.Context, marketID string, trader common.Address, outcome domain.Outcome, amount *big.Int) (domain.Trade, error),
) {
	id := pathParam(r, "id")
	trader, ok := middleware.TraderFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing trader identity")
		return
	}

	var req swapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	outcome := domain.Outcome(req.Outcome)
	if !outcome.Valid() {
		writeError(w, http.StatusBadRequest, "outcome must be yes or no")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	trade, err := op(r.Context(), id, trader, outcome, amount)
	if err != nil {
		h.respondTradeError(w, r, name, id, err)
		return
	}

	writeJSON(w, http.StatusOK, trade)
}

// Prices returns the current normalized YES/NO price pair for a market.
// GET /api/markets/{id}/prices
func (h *TradeHandler) Prices(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	prices, err := h.trades.Prices(r.Context(), id)
	if err != nil {
		h.respondTradeError(w, r, "prices", id, err)
		return
	}

	writeJSON(w, http.StatusOK, prices)
}

// ListTrades returns the trade history for a market, most recent first.
// GET /api/markets/{id}/trades?limit=50&offset=0
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}
	opts := parseListOpts(r)

	trades, err := h.trades.ListByMarket(r.Context(), id, opts)
	if err != nil {
		h.respondTradeError(w, r, "list-trades", id, err)
		return
	}

	writeJSON(w, http.StatusOK, listTradesResponse{
		Trades: trades,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// respondTradeError maps domain errors to HTTP statuses and logs the rest.
func (h *TradeHandler) respondTradeError(w http.ResponseWriter, r *http.Request, op, id string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "market not found")
	case errors.Is(err, domain.ErrWrongPhase),
		errors.Is(err, domain.ErrBelowMinimum):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientAllowance),
		errors.Is(err, domain.ErrInsufficientLiquidity),
		errors.Is(err, domain.ErrTransferFailed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusServiceUnavailable, "market busy, retry")
	default:
		h.logger.ErrorContext(r.Context(), "handler: trade operation failed",
			slog.String("op", op),
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "operation failed")
	}
}
