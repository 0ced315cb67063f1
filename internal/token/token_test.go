package token

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hephyrius/selfmarket/internal/domain"
)

var (
	minter = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000002")
	self   = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New("USD Coin", "USDC", 6, self, minter)
	if err := l.Mint(context.Background(), minter, alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return l
}

func TestMintAuthority(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	if err := l.Mint(ctx, alice, alice, big.NewInt(100)); !errors.Is(err, domain.ErrNotMinter) {
		t.Errorf("mint by non-minter: %v, want %v", err, domain.ErrNotMinter)
	}
	if err := l.Burn(ctx, bob, alice, big.NewInt(100)); !errors.Is(err, domain.ErrNotMinter) {
		t.Errorf("burn by non-minter: %v, want %v", err, domain.ErrNotMinter)
	}
	if err := l.Burn(ctx, minter, alice, big.NewInt(2_000)); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("overburn: %v, want %v", err, domain.ErrInsufficientBalance)
	}
	if err := l.Burn(ctx, minter, alice, big.NewInt(400)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	bal, _ := l.BalanceOf(ctx, alice)
	if bal.Int64() != 600 {
		t.Errorf("balance = %s, want 600", bal)
	}
}

func TestTransfer(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	if err := l.Transfer(ctx, alice, bob, big.NewInt(300)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	aliceBal, _ := l.BalanceOf(ctx, alice)
	bobBal, _ := l.BalanceOf(ctx, bob)
	if aliceBal.Int64() != 700 || bobBal.Int64() != 300 {
		t.Errorf("balances = %s/%s, want 700/300", aliceBal, bobBal)
	}

	if err := l.Transfer(ctx, alice, bob, big.NewInt(10_000)); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("overdraw: %v, want %v", err, domain.ErrInsufficientBalance)
	}
	if err := l.Transfer(ctx, alice, bob, big.NewInt(0)); !errors.Is(err, domain.ErrTransferFailed) {
		t.Errorf("zero transfer: %v, want %v", err, domain.ErrTransferFailed)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	// No allowance yet.
	if err := l.TransferFrom(ctx, bob, alice, bob, big.NewInt(100)); !errors.Is(err, domain.ErrInsufficientAllowance) {
		t.Errorf("no allowance: %v, want %v", err, domain.ErrInsufficientAllowance)
	}

	if err := l.Approve(ctx, alice, bob, big.NewInt(500)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := l.TransferFrom(ctx, bob, alice, bob, big.NewInt(300)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}

	remaining, _ := l.Allowance(ctx, alice, bob)
	if remaining.Int64() != 200 {
		t.Errorf("allowance = %s, want 200", remaining)
	}

	if err := l.TransferFrom(ctx, bob, alice, bob, big.NewInt(300)); !errors.Is(err, domain.ErrInsufficientAllowance) {
		t.Errorf("exhausted allowance: %v, want %v", err, domain.ErrInsufficientAllowance)
	}

	// Self-spend ignores allowance.
	if err := l.TransferFrom(ctx, alice, alice, bob, big.NewInt(100)); err != nil {
		t.Fatalf("self transferFrom: %v", err)
	}
}

func TestTotalSupply(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	if err := l.Mint(ctx, minter, bob, big.NewInt(250)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	total, _ := l.TotalSupply(ctx)
	if total.Int64() != 1_250 {
		t.Errorf("total supply = %s, want 1250", total)
	}
}
