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

// TokenService defines the collateral token methods the token handler needs.
type TokenService interface {
	Faucet(ctx context.Context, to common.Address) (*big.Int, error)
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
}

// BalanceSource resolves per-market share balances and token lookups.
type BalanceSource interface {
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ShareBalances(ctx context.Context, id string, addr common.Address) (yes, no *big.Int, err error)
	MarketByToken(ctx context.Context, token common.Address) (domain.Market, error)
}

// TokenHandler serves collateral faucet, approval, and balance endpoints.
type TokenHandler struct {
	tokens  TokenService
	markets BalanceSource
	logger  *slog.Logger
}

// NewTokenHandler creates a TokenHandler with the given services and logger.
func NewTokenHandler(tokens TokenService, markets BalanceSource, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		tokens:  tokens,
		markets: markets,
		logger:  logger,
	}
}

// approveRequest is the body for a collateral allowance grant.
type approveRequest struct {
	Amount string `json:"amount"`
}

// balancesResponse reports an address's holdings in one market.
type balancesResponse struct {
	Address    common.Address `json:"address"`
	Collateral string         `json:"collateral"`
	Yes        string         `json:"yes"`
	No         string         `json:"no"`
}

// Faucet mints the configured faucet amount to the authenticated trader.
// POST /api/tokens/faucet
func (h *TokenHandler) Faucet(w http.ResponseWriter, r *http.Request) {
	trader, ok := middleware.TraderFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing trader identity")
		return
	}

	balance, err := h.tokens.Faucet(r.Context(), trader)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			writeError(w, http.StatusForbidden, "faucet disabled")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: faucet failed",
			slog.String("address", trader.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "faucet failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"address": trader.Hex(),
		"balance": balance.String(),
	})
}

// Approve grants a market's account an allowance over the trader's collateral.
// The spender is the market's own ledger address, so trades and seeds can pull
// funds.
// POST /api/markets/{id}/approve
func (h *TokenHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	trader, ok := middleware.TraderFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing trader identity")
		return
	}

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: approve lookup failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "approve failed")
		return
	}

	if err := h.tokens.Approve(r.Context(), trader, market.Account, amount); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: approve failed",
			slog.String("market_id", id),
			slog.String("address", trader.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "approve failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"owner":   trader.Hex(),
		"spender": market.Account.Hex(),
		"amount":  amount.String(),
	})
}

// MarketByToken resolves a YES or NO share token address to its market.
// GET /api/tokens/{address}/market
func (h *TokenHandler) MarketByToken(w http.ResponseWriter, r *http.Request) {
	raw := pathParam(r, "address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid token address")
		return
	}
	token := common.HexToAddress(raw)

	market, err := h.markets.MarketByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no market for token")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: token lookup failed",
			slog.String("token", token.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "token lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// Balances returns an address's collateral and share balances for a market.
// GET /api/markets/{id}/balances?address=0x...
func (h *TokenHandler) Balances(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	addr, ok := queryAddress(r, "address")
	if !ok {
		writeError(w, http.StatusBadRequest, "missing or invalid address")
		return
	}

	collateral, err := h.tokens.Balance(r.Context(), addr)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: collateral balance failed",
			slog.String("address", addr.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "balance lookup failed")
		return
	}

	yes, no, err := h.markets.ShareBalances(r.Context(), id, addr)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: share balances failed",
			slog.String("market_id", id),
			slog.String("address", addr.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "balance lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, balancesResponse{
		Address:    addr,
		Collateral: collateral.String(),
		Yes:        yes.String(),
		No:         no.String(),
	})
}
