package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CollateralAsset is the capability surface the market consumes from the
// underlying collateral token. Implementations may be an in-process ledger
// or an adapter to an external chain; either way every call is atomic.
type CollateralAsset interface {
	// Transfer moves amount from the caller's balance to another account.
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	// TransferFrom moves amount from one account to another on behalf of
	// spender, consuming allowance when spender != from.
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error)
	Decimals() uint8
}

// ShareToken is one of the two outcome tokens (YES or NO). Only the owning
// market may mint or burn.
type ShareToken interface {
	Mint(ctx context.Context, minter, to common.Address, amount *big.Int) error
	Burn(ctx context.Context, minter, from common.Address, amount *big.Int) error
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error)
	Address() common.Address
}
