// Package token provides an in-process fungible token ledger implementing
// the collateral and share capabilities the market core consumes. It mirrors
// ERC-20 semantics (balances, allowances, minter authority) without any
// chain dependency, which makes it the collateral double for local mode
// and tests. On-chain adapters can replace it behind the domain interfaces.
package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hephyrius/selfmarket/internal/domain"
)

// Ledger is a single fungible token. All methods are safe for concurrent
// use; each call is atomic.
type Ledger struct {
	mu         sync.RWMutex
	name       string
	symbol     string
	decimals   uint8
	addr       common.Address
	minter     common.Address
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// New creates a Ledger with the given metadata. The minter is the only
// address allowed to call Mint and Burn.
func New(name, symbol string, decimals uint8, addr, minter common.Address) *Ledger {
	return &Ledger{
		name:       name,
		symbol:     symbol,
		decimals:   decimals,
		addr:       addr,
		minter:     minter,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Name returns the token name.
func (l *Ledger) Name() string { return l.name }

// Symbol returns the token symbol.
func (l *Ledger) Symbol() string { return l.symbol }

// Decimals returns the token's decimal places.
func (l *Ledger) Decimals() uint8 { return l.decimals }

// Address returns the ledger's own identity address.
func (l *Ledger) Address() common.Address { return l.addr }

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("token: non-positive amount: %w", domain.ErrTransferFailed)
	}
	return nil
}

func (l *Ledger) balance(addr common.Address) *big.Int {
	if b, ok := l.balances[addr]; ok {
		return b
	}
	b := new(big.Int)
	l.balances[addr] = b
	return b
}

// BalanceOf returns a copy of addr's balance.
func (l *Ledger) BalanceOf(_ context.Context, addr common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// Mint credits amount to the given account. Only the minter may mint.
func (l *Ledger) Mint(_ context.Context, minter, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if minter != l.minter {
		return fmt.Errorf("token: mint %s by %s: %w", l.symbol, minter, domain.ErrNotMinter)
	}
	l.balance(to).Add(l.balance(to), amount)
	return nil
}

// Burn debits amount from the given account. Only the minter may burn.
func (l *Ledger) Burn(_ context.Context, minter, from common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if minter != l.minter {
		return fmt.Errorf("token: burn %s by %s: %w", l.symbol, minter, domain.ErrNotMinter)
	}
	bal := l.balance(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("token: burn %s from %s: %w", l.symbol, from, domain.ErrInsufficientBalance)
	}
	bal.Sub(bal, amount)
	return nil
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

// Approve sets spender's allowance over the owner's balance.
func (l *Ledger) Approve(_ context.Context, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: negative allowance: %w", domain.ErrTransferFailed)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	byOwner, ok := l.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*big.Int)
		l.allowances[owner] = byOwner
	}
	byOwner[spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns spender's remaining allowance over the owner's balance.
func (l *Ledger) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if byOwner, ok := l.allowances[owner]; ok {
		if a, ok := byOwner[spender]; ok {
			return new(big.Int).Set(a), nil
		}
	}
	return new(big.Int), nil
}

// TransferFrom moves amount from one account to another on behalf of
// spender. Allowance is consumed unless the spender is the source account.
func (l *Ledger) TransferFrom(_ context.Context, spender, from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if spender != from {
		byOwner := l.allowances[from]
		allowance, ok := byOwner[spender]
		if !ok || allowance.Cmp(amount) < 0 {
			return fmt.Errorf("token: transferFrom %s of %s: %w", l.symbol, from, domain.ErrInsufficientAllowance)
		}
		if err := l.move(from, to, amount); err != nil {
			return err
		}
		allowance.Sub(allowance, amount)
		return nil
	}
	return l.move(from, to, amount)
}

// move transfers balance without allowance checks. Callers hold l.mu.
func (l *Ledger) move(from, to common.Address, amount *big.Int) error {
	bal := l.balance(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("token: transfer %s from %s: %w", l.symbol, from, domain.ErrInsufficientBalance)
	}
	bal.Sub(bal, amount)
	l.balance(to).Add(l.balance(to), amount)
	return nil
}

// TotalSupply returns the sum of all balances.
func (l *Ledger) TotalSupply(_ context.Context) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := new(big.Int)
	for _, b := range l.balances {
		total.Add(total, b)
	}
	return total, nil
}

// Compile-time capability checks.
var (
	_ domain.CollateralAsset = (*Ledger)(nil)
	_ domain.ShareToken      = (*Ledger)(nil)
)
