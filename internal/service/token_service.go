package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hephyrius/selfmarket/internal/domain"
	"github.com/hephyrius/selfmarket/internal/token"
)

// TokenService exposes the local collateral ledger: faucet mints, approvals,
// and balance lookups across collateral and outcome shares.
type TokenService struct {
	collateral   *token.Ledger
	minter       common.Address
	faucetAmount *big.Int // nil disables the faucet
	logger       *slog.Logger
}

// NewTokenService creates a TokenService. faucetAmount may be nil to disable
// the faucet endpoint.
func NewTokenService(collateral *token.Ledger, minter common.Address, faucetAmount *big.Int, logger *slog.Logger) *TokenService {
	return &TokenService{
		collateral:   collateral,
		minter:       minter,
		faucetAmount: faucetAmount,
		logger:       logger.With(slog.String("component", "token_service")),
	}
}

// Faucet mints the configured faucet amount of collateral to the address.
func (s *TokenService) Faucet(ctx context.Context, to common.Address) (*big.Int, error) {
	if s.faucetAmount == nil || s.faucetAmount.Sign() <= 0 {
		return nil, fmt.Errorf("token_service: faucet disabled: %w", domain.ErrUnauthorized)
	}

	if err := s.collateral.Mint(ctx, s.minter, to, s.faucetAmount); err != nil {
		return nil, fmt.Errorf("token_service: faucet mint: %w", err)
	}

	bal, err := s.collateral.BalanceOf(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("token_service: faucet balance: %w", err)
	}

	s.logger.InfoContext(ctx, "faucet mint",
		slog.String("to", to.Hex()),
		slog.String("amount", s.faucetAmount.String()),
	)
	return bal, nil
}

// Approve grants a spender an allowance over the owner's collateral. In
// local mode the market account is the usual spender.
func (s *TokenService) Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error {
	if err := s.collateral.Approve(ctx, owner, spender, amount); err != nil {
		return fmt.Errorf("token_service: approve: %w", err)
	}
	return nil
}

// Balance returns the collateral balance for an address.
func (s *TokenService) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := s.collateral.BalanceOf(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("token_service: balance: %w", err)
	}
	return bal, nil
}

// ShareBalances returns an address's YES and NO share balances for a market.
func (s *TokenService) ShareBalances(ctx context.Context, yes, no domain.ShareToken, addr common.Address) (yesBal, noBal *big.Int, err error) {
	yesBal, err = yes.BalanceOf(ctx, addr)
	if err != nil {
		return nil, nil, fmt.Errorf("token_service: yes balance: %w", err)
	}
	noBal, err = no.BalanceOf(ctx, addr)
	if err != nil {
		return nil, nil, fmt.Errorf("token_service: no balance: %w", err)
	}
	return yesBal, noBal, nil
}
